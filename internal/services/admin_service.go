package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"crash-game/internal/models"
)

// AdminService records operator actions and summarizes the house position
type AdminService struct {
	db *gorm.DB
}

// NewAdminService creates a new AdminService
func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

// HouseStats summarizes play since launch
type HouseStats struct {
	Rounds        map[models.RoundStatus]int64 `json:"rounds"`
	Bets          int64                        `json:"bets"`
	Wagered       int64                        `json:"wagered"`
	PaidOut       int64                        `json:"paid_out"`
	HouseBalance  int64                        `json:"house_balance"`
	OpenIncidents int64                        `json:"open_incidents"`
}

// PromoteUserToAdmin grants an operator role
func (s *AdminService) PromoteUserToAdmin(ctx context.Context, userID uint, role string, promotedBy uint) (*models.AdminUser, error) {
	if role != models.RoleOperator && role != models.RoleAuditor {
		return nil, fmt.Errorf("unknown admin role %q", role)
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}

	admin := models.AdminUser{UserID: userID, Role: role}
	err := s.db.WithContext(ctx).
		Where(models.AdminUser{UserID: userID}).
		Assign(models.AdminUser{Role: role}).
		FirstOrCreate(&admin).Error
	if err != nil {
		return nil, fmt.Errorf("failed to promote user: %w", err)
	}

	_ = s.LogAdminAction(ctx, promotedBy, "promote_admin", "user", fmt.Sprintf("%d", userID), map[string]interface{}{"role": role})
	return &admin, nil
}

// LogAdminAction appends to the operator audit trail
func (s *AdminService) LogAdminAction(ctx context.Context, adminID uint, action, resourceType, resourceID string, details map[string]interface{}) error {
	adminLog := models.AdminLog{
		AdminID:      adminID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      models.JSONB(details),
	}
	return s.db.WithContext(ctx).Create(&adminLog).Error
}

// GetAdminLogs returns admin activity logs
func (s *AdminService) GetAdminLogs(ctx context.Context, limit, offset int) ([]models.AdminLog, error) {
	var logs []models.AdminLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	return logs, err
}

// Stats returns round, bet and house totals
func (s *AdminService) Stats(ctx context.Context, houseID uint) (*HouseStats, error) {
	db := s.db.WithContext(ctx)
	stats := &HouseStats{Rounds: make(map[models.RoundStatus]int64)}

	var byStatus []struct {
		Status models.RoundStatus
		Count  int64
	}
	if err := db.Model(&models.Round{}).Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.Rounds[row.Status] = row.Count
	}

	var bets struct {
		Count   int64
		Wagered int64
		Paid    int64
	}
	err := db.Model(&models.Bet{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS wagered, COALESCE(SUM(payout_amount), 0) AS paid").
		Where("status <> ?", models.BetStatusRefunded).
		Scan(&bets).Error
	if err != nil {
		return nil, err
	}
	stats.Bets, stats.Wagered, stats.PaidOut = bets.Count, bets.Wagered, bets.Paid

	var house models.Account
	if err := db.Where("user_id = ?", houseID).First(&house).Error; err == nil {
		stats.HouseBalance = house.Available
	}
	if err := db.Model(&models.Incident{}).Where("status = ?", models.IncidentOpen).Count(&stats.OpenIncidents).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
