package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"costwatch/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncJob), args.Error(1)
}

func (m *mockCache) SetJob(ctx context.Context, job *models.SyncJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockCache) ClearJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func TestFailoverProgressCache(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	t.Run("PrimaryHealthy", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)

		job := &models.SyncJob{ID: "job-1"}
		primary.On("GetJob", ctx, "job-1").Return(job, nil).Once()

		got, err := repo.GetJob(ctx, "job-1")
		assert.NoError(t, err)
		assert.Equal(t, job, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("GetJobFailover", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)

		job := &models.SyncJob{ID: "job-2"}
		primary.On("GetJob", ctx, "job-2").Return(nil, errors.New("redis down")).Once()
		fallback.On("GetJob", ctx, "job-2").Return(job, nil).Once()

		got, err := repo.GetJob(ctx, "job-2")
		assert.NoError(t, err)
		assert.Equal(t, job, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetJobFailover", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)

		job := &models.SyncJob{ID: "job-3"}
		primary.On("SetJob", ctx, job).Return(errors.New("redis down")).Once()
		fallback.On("SetJob", ctx, job).Return(nil).Once()

		err := repo.SetJob(ctx, job)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetJobAlreadyDown", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()

		job := &models.SyncJob{ID: "job-4"}
		fallback.On("SetJob", ctx, job).Return(nil).Once()

		err := repo.SetJob(ctx, job)
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
	})

	t.Run("ClearJobAlreadyDown", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()

		fallback.On("ClearJob", ctx, "job-5").Return(nil).Once()

		err := repo.ClearJob(ctx, "job-5")
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
	})

	t.Run("PrimaryRecovers", func(t *testing.T) {
		primary := new(mockCache)
		fallback := new(mockCache)
		repo := NewFailoverProgressCache(primary, fallback, &logger)
		repo.isDown.Store(true)
		// lastCheck далеко в прошлом, пора пробовать primary снова

		job := &models.SyncJob{ID: "job-6"}
		primary.On("GetJob", ctx, "job-6").Return(job, nil).Once()

		got, err := repo.GetJob(ctx, "job-6")
		assert.NoError(t, err)
		assert.Equal(t, job, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}
