package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-waitlist/internal/db"
)

type treatmentSeed struct {
	name            string
	durationMinutes int
}

// Durations reflect typical clinic service lengths.
var treatmentSeeds = []treatmentSeed{
	{"Initial Consultation", 30},
	{"Follow-up Consultation", 15},
	{"Physiotherapy Session", 45},
	{"Deep Tissue Massage", 60},
	{"Chemical Peel", 45},
	{"Microneedling", 60},
	{"Laser Hair Removal", 30},
	{"Botox Treatment", 30},
	{"Dermal Filler", 45},
	{"Skin Assessment", 20},
}

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	bg := context.Background()

	clients, err := seedClients(bg, pool, 500)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clients")
	}
	practitioners, err := seedPractitioners(bg, pool, 12)
	if err != nil {
		log.Fatal().Err(err).Msg("seed practitioners")
	}
	treatments, err := seedTreatments(bg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("seed treatments")
	}
	if err := seedSlots(bg, pool, practitioners, 30); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}
	if err := seedWaitlist(bg, pool, clients, treatments, 200); err != nil {
		log.Fatal().Err(err).Msg("seed waitlist")
	}

	log.Info().Msg("seed complete")
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding clients")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO clients (id, name, email, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding practitioners")

	specialties := []string{
		"Dermatology",
		"Physiotherapy",
		"Cosmetic Medicine",
		"General Practice",
		"Nursing",
	}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Name(), specialties[rand.Intn(len(specialties))])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedTreatments(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Info().Int("count", len(treatmentSeeds)).Msg("seeding treatments")

	ids := make([]uuid.UUID, 0, len(treatmentSeeds))
	for _, t := range treatmentSeeds {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO treatments (id, name, duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, t.name, t.durationMinutes)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedSlots opens gaps over the next `days` days: each practitioner gets a
// handful of openings per working day between 09:00 and 17:00.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, practitioners []uuid.UUID, days int) error {
	durations := []int{15, 30, 45, 60}
	total := 0

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for day := 1; day <= days; day++ {
		date := today.AddDate(0, 0, day)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, p := range practitioners {
			for i := 0; i < 2+rand.Intn(3); i++ {
				startMinute := 9*60 + 15*rand.Intn(32) // 09:00 .. 16:45
				startsAt := date.Add(time.Duration(startMinute) * time.Minute)
				_, err := pool.Exec(ctx, `
					INSERT INTO availability_slots (id, resource_ref, starts_at, duration_minutes, created_at)
					VALUES ($1, $2, $3, $4, now())
					ON CONFLICT DO NOTHING
				`, uuid.New(), p, startsAt, durations[rand.Intn(len(durations))])
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	log.Info().Int("count", total).Msg("seeded availability slots")
	return nil
}

func seedWaitlist(ctx context.Context, pool *pgxpool.Pool, clients, treatments []uuid.UUID, count int) error {
	log.Info().Int("count", count).Msg("seeding waitlist entries")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < count; i++ {
		preferred := today.AddDate(0, 0, 1+rand.Intn(21))

		var alternatives []time.Time
		for j := 0; j < rand.Intn(3); j++ {
			alternatives = append(alternatives, preferred.AddDate(0, 0, 1+rand.Intn(7)))
		}

		var preferredTime *string
		if rand.Intn(2) == 0 {
			t := fmt.Sprintf("%02d:%02d", 9+rand.Intn(8), 15*rand.Intn(4))
			preferredTime = &t
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO waitlist_entries
				(id, client_ref, treatment_ref, preferred_date, alternative_dates, preferred_time,
				 flexible_timing, priority, status, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'waiting', $9, now(), now())
		`,
			uuid.New(),
			clients[rand.Intn(len(clients))],
			treatments[rand.Intn(len(treatments))],
			preferred,
			alternatives,
			preferredTime,
			rand.Intn(3) == 0,
			rand.Intn(6),
			time.Now().AddDate(0, 0, 14+rand.Intn(28)),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
