package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/skechum/internal/models"
)

func TestPlanListReturnsActiveOnly(t *testing.T) {
	svc := NewPlanService(&fakePlans{plans: []models.Plan{
		{ID: 1, Name: "Starter", IsActive: true},
		{ID: 2, Name: "Old", IsActive: false},
	}})
	plans, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Starter", plans[0].Name)

	empty, err := NewPlanService(&fakePlans{}).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, empty)
}
