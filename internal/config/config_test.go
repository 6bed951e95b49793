package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finovahq/javob/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.SLAThresholds[model.RoleAgent])
	assert.Equal(t, 15*time.Minute, cfg.SLAThresholds[model.RoleSupervisor])
	assert.Equal(t, 30*time.Minute, cfg.SLADefault)
	assert.Equal(t, 10*time.Minute, cfg.AnswerWindow)
	assert.Equal(t, 30*time.Minute, cfg.QuestionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, model.RoleAgent, cfg.DefaultResponderRole)
	assert.Equal(t, []model.Role{model.RoleClient}, cfg.ClientRoles)
	assert.InDelta(t, 1.0, cfg.KpiWeights.Sum(), 1e-9)
	assert.NotEmpty(t, cfg.QuestionKeywords)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JAVOB_PORT", "9000")
	t.Setenv("JAVOB_SLA_AGENT", "7m")
	t.Setenv("JAVOB_QUESTION_KEYWORDS", "savol, kurs")
	t.Setenv("JAVOB_CLIENT_ROLES", "client,agent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 7*time.Minute, cfg.SLAThresholds[model.RoleAgent])
	assert.Equal(t, []string{"savol", "kurs"}, cfg.QuestionKeywords)
	assert.Equal(t, []model.Role{model.RoleClient, model.RoleAgent}, cfg.ClientRoles)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	t.Setenv("JAVOB_KPI_WEIGHT_RESPONSE_TIME", "0.9")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights")
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	t.Setenv("JAVOB_DEFAULT_RESPONDER_ROLE", "MANAGER")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.AnswerWindow = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.SweepInterval = -time.Minute
	assert.Error(t, cfg.Validate())
}

func TestValidateBandOrdering(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.KpiBands = BandTable{
		{MinScore: 70},
		{MinScore: 85, BonusRate: 0.10},
		{MinScore: 0, PenaltyRate: 0.20},
	}
	assert.Error(t, cfg.Validate())

	cfg.KpiBands = BandTable{
		{MinScore: 85, BonusRate: 0.10},
		{MinScore: 50},
	}
	assert.Error(t, cfg.Validate())
}

func TestBandMatch(t *testing.T) {
	cases := []struct {
		score   float64
		bonus   float64
		penalty float64
	}{
		{score: 97, bonus: 0.20},
		{score: 95, bonus: 0.20},
		{score: 90, bonus: 0.10},
		{score: 75},
		{score: 65, penalty: 0.10},
		{score: 40, penalty: 0.20},
		{score: 0, penalty: 0.20},
	}
	for _, tc := range cases {
		band := DefaultBands.Match(tc.score)
		assert.Equal(t, tc.bonus, band.BonusRate, "score %v", tc.score)
		assert.Equal(t, tc.penalty, band.PenaltyRate, "score %v", tc.score)
	}
}
