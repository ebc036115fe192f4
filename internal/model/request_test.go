package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status string
		want   StatusClass
	}{
		{"pending", StatusActive},
		{"Pending", StatusActive},
		{"approved", StatusArchived},
		{"Approved", StatusArchived},
		{"completed", StatusArchived},
		{"Completed", StatusArchived},
		{"declined", StatusExcluded},
		{"Declined", StatusExcluded},
		{"rejected", StatusExcluded},
		{"REJECTED", StatusExcluded},
		{"  pending  ", StatusActive},
		{"", StatusActive},
		{"in review", StatusActive}, // unknown statuses stay visible
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status))
		})
	}
}

func TestRequestMatchesName(t *testing.T) {
	req := Request{FullName: "Maria Santos"}

	assert.True(t, req.MatchesName(""))
	assert.True(t, req.MatchesName("maria"))
	assert.True(t, req.MatchesName("SANTOS"))
	assert.True(t, req.MatchesName("ia Sa"))
	assert.False(t, req.MatchesName("jose"))
}

func TestRoleSides(t *testing.T) {
	assert.Equal(t, RoleStaff, RoleVoter.Counterpart())
	assert.Equal(t, RoleVoter, RoleStaff.Counterpart())
	assert.Equal(t, RoleVoter, RoleAdmin.Counterpart())
	assert.Equal(t, RoleStaff, RoleAdmin.ChatSide())
	assert.Equal(t, FieldReadByVoter, RoleVoter.ReadFlagField())
	assert.Equal(t, FieldReadByStaff, RoleStaff.ReadFlagField())
	assert.Equal(t, FieldReadByStaff, RoleAdmin.ReadFlagField())
}

func TestReadBy(t *testing.T) {
	msg := Message{ReadByVoter: true, ReadByStaff: false}

	assert.True(t, msg.ReadBy(RoleVoter))
	assert.False(t, msg.ReadBy(RoleStaff))
	assert.False(t, msg.ReadBy(RoleAdmin))
}
