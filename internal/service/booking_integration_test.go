package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/automotiv/khetisahayak-sub001/internal/migrations"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

// BookingPostgresSuite runs the booking paths against a real PostgreSQL,
// where row locks and the partial unique index actually apply.
type BookingPostgresSuite struct {
	suite.Suite
	ctx context.Context
	pgc *postgres.PostgresContainer
	db  *gorm.DB
}

func TestBookingPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(BookingPostgresSuite))
}

func (s *BookingPostgresSuite) SetupSuite() {
	s.ctx = context.Background()

	pgc, err := postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("consultations"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.pgc = pgc

	connStr, err := pgc.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := gorm.Open(gormpostgres.Open(connStr), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(model.AutoMigrate(db))
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	s.Require().NoError(migrations.Up(s.ctx, sqlDB, zap.NewNop()))
}

func (s *BookingPostgresSuite) TearDownSuite() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	s.Require().NoError(s.pgc.Terminate(s.ctx))
}

func (s *BookingPostgresSuite) TestConcurrentBookingsOfOneSlot() {
	env := newTestEnvWithDB(s.T(), s.db)

	const farmers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		refused int
		other   []error
	)
	for i := 0; i < farmers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.consultations.Book(s.ctx, BookRequest{
				FarmerID:        uuid.New(),
				ExpertID:        env.expertID,
				ScheduledAt:     at10,
				DurationMinutes: 30,
				Type:            model.ConsultationTypeVideo,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrSlotUnavailable):
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	s.Empty(other)
	s.Equal(1, booked)
	s.Equal(farmers-1, refused)

	var active int64
	s.Require().NoError(s.db.Model(&model.Consultation{}).
		Where("expert_id = ? AND status NOT IN ?", env.expertID,
			[]model.ConsultationStatus{model.ConsultationStatusCancelled, model.ConsultationStatusNoShow}).
		Count(&active).Error)
	s.Equal(int64(1), active)
}

func (s *BookingPostgresSuite) TestCheckConstraintRejectsBadRating() {
	env := newTestEnvWithDB(s.T(), s.db)
	err := s.db.Exec(
		"INSERT INTO reviews (id, consultation_id, farmer_id, expert_id, rating, created_at) VALUES (?, ?, ?, ?, ?, now())",
		uuid.New(), uuid.New(), env.farmerID, env.expertID, 9,
	).Error
	s.Error(err)
}
