package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/config"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/db"
)

var departments = map[string][]string{
	"Cardiology":       {"Interventional Cardiology", "Electrophysiology"},
	"Dermatology":      {"Medical Dermatology", "Cosmetic Dermatology"},
	"General Practice": {"Family Medicine", "Internal Medicine"},
	"Orthopedics":      {"Sports Medicine", "Spine Surgery"},
	"Pediatrics":       {"General Pediatrics", "Neonatology"},
	"Neurology":        {"Epilepsy", "Movement Disorders"},
}

// shifts are candidate working hours; weekends are skipped.
var shifts = [][2]string{
	{"08:00", "16:00"},
	{"09:00", "17:00"},
	{"10:00", "18:00"},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(ctx, pool, faker, 50); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(ctx, pool, faker, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d doctors", count)

	names := make([]string, 0, len(departments))
	for d := range departments {
		names = append(names, d)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		dept := names[faker.Number(0, len(names)-1)]
		specialties := departments[dept]
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, department, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, faker.FirstName()+" "+faker.LastName(), dept, spec)
		if err != nil {
			return err
		}

		shift := shifts[faker.Number(0, len(shifts)-1)]
		for wd := time.Monday; wd <= time.Friday; wd++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctor_working_hours (doctor_id, weekday, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`, id, int(wd), shift[0], shift[1])
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
