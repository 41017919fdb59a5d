package handler_test

import (
	"context"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
)

type mockAdminService struct {
	healthFn       func(ctx context.Context) domain.HealthSnapshot
	statsFn        func(ctx context.Context) (domain.Stats, error)
	repairFn       func(ctx context.Context) (domain.RepairReport, error)
	listFn         func(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error)
	listByAuthorFn func(ctx context.Context, handle string) ([]domain.QueueRecord, error)
	dropFn         func(ctx context.Context, eventID string) (int, error)
}

func (m *mockAdminService) Health(ctx context.Context) domain.HealthSnapshot {
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return domain.HealthSnapshot{Status: domain.HealthOK}
}

func (m *mockAdminService) Stats(ctx context.Context) (domain.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return domain.Stats{}, nil
}

func (m *mockAdminService) Repair(ctx context.Context) (domain.RepairReport, error) {
	if m.repairFn != nil {
		return m.repairFn(ctx)
	}
	return domain.RepairReport{}, nil
}

func (m *mockAdminService) List(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, includeTerminal)
	}
	return nil, nil
}

func (m *mockAdminService) ListByAuthor(ctx context.Context, handle string) ([]domain.QueueRecord, error) {
	if m.listByAuthorFn != nil {
		return m.listByAuthorFn(ctx, handle)
	}
	return nil, nil
}

func (m *mockAdminService) Drop(ctx context.Context, eventID string) (int, error) {
	if m.dropFn != nil {
		return m.dropFn(ctx, eventID)
	}
	return 0, nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, msg platform.InboundMessage) (string, error)
	published []platform.InboundMessage
}

func (m *mockPublisher) Publish(ctx context.Context, msg platform.InboundMessage) (string, error) {
	m.published = append(m.published, msg)
	if m.publishFn != nil {
		return m.publishFn(ctx, msg)
	}
	return "1-0", nil
}
