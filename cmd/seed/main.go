// seed creates the administrator accounts. Idempotent: an account whose email
// already exists is left untouched. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_SUPERADMIN_PASSWORD.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"medconnect/backend/internal/config"
	"medconnect/backend/internal/db"
	"medconnect/backend/internal/security"
	"medconnect/backend/internal/user/domain"
	"medconnect/backend/internal/user/repository"
)

const minSeedPasswordLen = 12

type admin struct {
	email     string
	phone     string
	firstName string
	lastName  string
	password  string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if len(cfg.SeedAdminPassword) < minSeedPasswordLen {
		log.Fatalf("SEED_ADMIN_PASSWORD must be at least %d characters", minSeedPasswordLen)
	}
	superPassword := cfg.SeedSuperAdminPassword
	if superPassword == "" {
		superPassword = cfg.SeedAdminPassword
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := repository.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	admins := []admin{
		{email: "admin@medconnect.ci", phone: "0700000001", firstName: "Principal", lastName: "ADMIN", password: cfg.SeedAdminPassword},
		{email: "superadmin@medconnect.ci", phone: "0700000002", firstName: "Administrateur", lastName: "SUPER", password: superPassword},
	}
	for _, a := range admins {
		created, err := seedAdmin(ctx, users, hasher, a)
		if err != nil {
			log.Fatalf("seed %s: %v", a.email, err)
		}
		if created {
			log.Printf("created admin %s", a.email)
		} else {
			log.Printf("admin %s already exists; skipped", a.email)
		}
	}
}

func seedAdmin(ctx context.Context, users *repository.PostgresRepository, hasher *security.Hasher, a admin) (bool, error) {
	existing, err := users.GetByEmail(ctx, a.email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	hash, err := hasher.Hash(a.password)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:               uuid.New().String(),
		Email:            a.email,
		Phone:            a.phone,
		FirstName:        a.firstName,
		LastName:         a.lastName,
		Role:             domain.RoleAdmin,
		Status:           domain.UserStatusActive,
		PasswordHash:     hash,
		PreferredChannel: domain.ChannelEmail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := users.CreateAdmin(ctx, u); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
