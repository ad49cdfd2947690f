package service

import (
	"context"

	"github.com/digkill/skechum/internal/models"
)

type PlanService struct {
	plans PlanStore
}

func NewPlanService(plans PlanStore) *PlanService {
	return &PlanService{plans: plans}
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.plans.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	return plans, nil
}
