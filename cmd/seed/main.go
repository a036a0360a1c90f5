package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/sweeper"
)

var (
	slotDurations = []int{15, 20, 30, 45, 60}

	reasons = []string{
		"Annual physical",
		"Persistent cough",
		"Follow-up on lab results",
		"Back pain",
		"Skin rash",
		"Blood pressure check",
		"Migraine",
		"Vaccination",
		"Allergy consultation",
		"Sports injury",
	}

	consultationTypes = []string{
		string(appointment.ConsultationGeneral),
		string(appointment.ConsultationFollowUp),
		string(appointment.ConsultationRoutine),
		string(appointment.ConsultationSpecialist),
	}

	priorities = []string{
		string(appointment.PriorityLow),
		string(appointment.PriorityMedium),
		string(appointment.PriorityHigh),
	}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatal("seed writes to postgres; set STORAGE_BACKEND=postgres")
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	doctors := getInt("SEED_DOCTORS", 20)
	patients := getInt("SEED_PATIENTS", 500)
	bookings := getInt("SEED_APPOINTMENTS", 200)
	logg.Info("seed starting", zap.Int("doctors", doctors), zap.Int("patients", patients), zap.Int("appointments", bookings))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, logg)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		migrator, err := db.NewMigrator(pool, logg)
		if err != nil {
			logg.Fatal("migrator init error", zap.Error(err))
		}
		if err := migrator.Up(ctx); err != nil {
			logg.Fatal("migration error", zap.Error(err))
		}
		_ = migrator.Close()
	}

	faker := gofakeit.New(0)
	rules := availability.NewPgRuleStore(pool)
	repo := appointment.NewPgRepository(pool)
	resolver := availability.NewResolver(rules)
	schedules := availability.NewService(rules, time.Now, cfg.Location, logg.Named("availability"))
	appointments := appointment.NewService(appointment.Deps{
		Repo:       repo,
		Candidates: resolver,
		Locker:     lock.NewLocalLocker(),
		Logger:     logg.Named("appointment"),
		Location:   cfg.Location,
		Policy:     cfg.Policy,
	})

	doctorIDs, err := seedSchedules(ctx, schedules, faker, doctors, cfg.Location)
	if err != nil {
		logg.Fatal("seed schedules", zap.Error(err))
	}
	logg.Info("schedules seeded", zap.Int("doctors", len(doctorIDs)))

	sw := sweeper.New(rules, resolver, repo, time.Now, cfg.Location, cfg.SweepHorizon, logg.Named("sweeper"))
	res, err := sw.RunOnce(ctx)
	if err != nil {
		logg.Fatal("materialise slots", zap.Error(err))
	}
	logg.Info("slots materialised", zap.Int("slots", res.Materialised))

	patientIDs := make([]uuid.UUID, patients)
	for i := range patientIDs {
		patientIDs[i] = uuid.New()
	}

	booked, err := seedAppointments(ctx, appointments, faker, doctorIDs, patientIDs, bookings, cfg.Location)
	if err != nil {
		logg.Fatal("seed appointments", zap.Error(err))
	}

	logg.Info("seed complete", zap.Int("appointments", booked))
}

// seedSchedules gives every doctor a weekday schedule, an occasional
// Saturday, one day off and one exceptional day in the next two weeks.
func seedSchedules(ctx context.Context, svc *availability.Service, faker *gofakeit.Faker, count int, loc *time.Location) ([]uuid.UUID, error) {
	today := calendar.DateOf(time.Now().In(loc))
	ids := make([]uuid.UUID, 0, count)

	for i := 0; i < count; i++ {
		doctorID := uuid.New()
		duration := slotDurations[faker.Number(0, len(slotDurations)-1)]
		morning := window(faker.Number(7, 9), 0, 12, 0)
		afternoon := window(13, 0, faker.Number(16, 18), 0)

		rules := make([]availability.WeeklyRule, 0, 7)
		for day := calendar.Monday; day <= calendar.Sunday; day++ {
			available := day <= calendar.Friday || (day == calendar.Saturday && faker.Bool())
			rules = append(rules, availability.WeeklyRule{
				DayOfWeek:           day,
				IsAvailable:         available,
				Morning:             morning,
				Afternoon:           afternoon,
				SlotDurationMinutes: duration,
			})
		}
		if _, err := svc.SetWeeklySchedule(ctx, doctorID, rules); err != nil {
			return nil, err
		}

		_, err := svc.SetDayOff(ctx, availability.DayOff{
			DoctorID:  doctorID,
			Date:      today.AddDays(faker.Number(1, 14)),
			IsFullDay: faker.Bool(),
			Window:    window(10, 0, 11, 0),
			Reason:    "Conference",
		})
		if err != nil {
			return nil, err
		}

		_, err = svc.SetExceptionalSchedule(ctx, availability.ExceptionalSchedule{
			DoctorID:            doctorID,
			Date:                today.AddDays(faker.Number(1, 14)),
			Afternoon:           window(14, 0, 16, 0),
			SlotDurationMinutes: 30,
			Reason:              "Extended clinic",
		})
		if err != nil {
			return nil, err
		}

		ids = append(ids, doctorID)
	}
	return ids, nil
}

// seedAppointments books random free candidates of random doctors. Slots
// taken in the meantime are skipped.
func seedAppointments(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, doctors, patients []uuid.UUID, count int, loc *time.Location) (int, error) {
	today := calendar.DateOf(time.Now().In(loc))
	booked := 0

	for attempt := 0; booked < count && attempt < count*3; attempt++ {
		doctorID := doctors[faker.Number(0, len(doctors)-1)]
		free, err := svc.GetAvailableSlots(ctx, doctorID, today, today.AddDays(13))
		if err != nil {
			return booked, err
		}
		if len(free) == 0 {
			continue
		}
		c := free[faker.Number(0, len(free)-1)]
		patientID := patients[faker.Number(0, len(patients)-1)]

		_, err = svc.Book(ctx, appointment.Actor{ID: patientID, Role: appointment.RolePatient}, appointment.BookRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      c.Date,
			Start:     c.Start,
			End:       c.End,
			Details: appointment.Details{
				ConsultationType: appointment.ConsultationType(faker.RandomString(consultationTypes)),
				Priority:         appointment.Priority(faker.RandomString(priorities)),
				ReasonForVisit:   faker.RandomString(reasons),
				ContactPhone:     faker.Phone(),
				PatientNotes:     faker.Name() + " referred",
			},
		})
		if err != nil {
			if errors.Is(err, apperr.ErrSlotUnavailable) || errors.Is(err, apperr.ErrPastSlot) {
				continue
			}
			return booked, err
		}
		booked++
	}
	return booked, nil
}

func window(h1, m1, h2, m2 int) *calendar.Window {
	w := calendar.NewWindow(calendar.NewClock(h1, m1), calendar.NewClock(h2, m2))
	return &w
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
