package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"crash-game/internal/models"
)

func seedBet(t *testing.T, db *gorm.DB, userID uint, amount int64, status models.BetStatus, mult int64) {
	t.Helper()
	bet := models.Bet{
		ID:       uuid.New().String(),
		RoundID:  uuid.New().String(),
		UserID:   userID,
		Amount:   amount,
		Status:   status,
		RefID:    "bet:" + uuid.New().String(),
		PlacedAt: time.Now(),
	}
	if status == models.BetStatusCashedOut {
		payout := amount * mult / 100
		bet.CashoutMultiplier = &mult
		bet.PayoutAmount = &payout
	}
	if err := db.Create(&bet).Error; err != nil {
		t.Fatalf("failed to seed bet: %v", err)
	}
}

func TestUserProfileStats(t *testing.T) {
	_, db := newTestLedger(t)
	svc := NewUserService(db)
	user := createUser(t, db, "0xstats")

	seedBet(t, db, user, 100, models.BetStatusCashedOut, 250)
	seedBet(t, db, user, 100, models.BetStatusLost, 0)
	seedBet(t, db, user, 50, models.BetStatusCashedOut, 120)
	seedBet(t, db, user, 999, models.BetStatusRefunded, 0)
	seedBet(t, db, user, 999, models.BetStatusActive, 0)

	_, stats, err := svc.GetProfile(context.Background(), user)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	want := PlayerStats{Bets: 3, Wins: 2, Wagered: 250, PaidOut: 310, Net: 60, BestMultiplier: 250}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}
}

func TestUpdateNickname(t *testing.T) {
	_, db := newTestLedger(t)
	svc := NewUserService(db)
	ctx := context.Background()
	alice := createUser(t, db, "0xalice")
	bob := createUser(t, db, "0xbob")

	if err := svc.UpdateNickname(ctx, alice, "moon_rider"); err != nil {
		t.Fatalf("UpdateNickname failed: %v", err)
	}
	if err := svc.UpdateNickname(ctx, bob, "moon_rider"); !errors.Is(err, ErrNicknameTaken) {
		t.Errorf("expected ErrNicknameTaken, got %v", err)
	}
	for _, bad := range []string{"ab", "has space", "emoji🚀"} {
		if err := svc.UpdateNickname(ctx, bob, bad); !errors.Is(err, ErrInvalidNickname) {
			t.Errorf("%q: expected ErrInvalidNickname, got %v", bad, err)
		}
	}
}
