// seed 为本地环境写入示例团队和用户，并打印可直接使用的 token
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"alertreminder/internal/config"
	"alertreminder/internal/model"
	"alertreminder/internal/repository"
	"alertreminder/pkg/db"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/rbac"
	"alertreminder/pkg/util"
)

const defaultPassword = "password"

type seedUser struct {
	username string
	team     string
	isStaff  bool
}

var (
	teams = []string{"Engineering", "Marketing", "Sales"}
	users = []seedUser{
		{username: "admin", isStaff: true},
		{username: "alice", team: "Engineering"},
		{username: "bob", team: "Marketing"},
		{username: "carol", team: "Sales"},
	}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger()
	defer logger.Sync()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	hash, err := util.HashPassword(defaultPassword)
	if err != nil {
		logger.Fatal("Failed to hash password", zap.Error(err))
	}

	repo := repository.NewUserRepository(dbConn, logger)
	ctx := context.Background()

	err = repository.NewTransactor(dbConn).WithTx(ctx, func(ctx context.Context) error {
		teamIDs := make(map[string]int64, len(teams))
		for _, name := range teams {
			id, err := repo.UpsertTeam(ctx, name)
			if err != nil {
				return err
			}
			teamIDs[name] = id
		}

		for _, su := range users {
			u := &model.User{
				Username: su.username,
				Email:    su.username + "@example.com",
				IsStaff:  su.isStaff,
			}
			if su.team != "" {
				id := teamIDs[su.team]
				u.TeamID = &id
			}
			if _, err := repo.UpsertUser(ctx, u, hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Fatal("Seed failed", zap.Error(err))
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		logger.Fatal("Failed to list users", zap.Error(err))
	}
	for _, u := range all {
		token, err := util.GenerateJWT(u.ID, rbac.RoleFor(u.IsStaff), cfg.JWT.Secret, 24*time.Hour)
		if err != nil {
			logger.Fatal("Failed to sign token", zap.Error(err))
		}
		fmt.Printf("%-8s id=%d token=%s\n", u.Username, u.ID, token)
	}
}
