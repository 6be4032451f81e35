// Package domain describes the plan catalogue consumed by the spend guard.
package domain

import (
	"context"
	"errors"
	"strings"
)

// Category is the pricing category of a WhatsApp message.
type Category string

const (
	CategoryMarketing      Category = "marketing"
	CategoryUtility        Category = "utility"
	CategoryAuthentication Category = "authentication"
	CategoryService        Category = "service"
)

// Feature is a send channel that a plan may or may not include.
type Feature string

const (
	FeatureBroadcast  Feature = "broadcast"
	FeatureInboxReply Feature = "inbox_reply"
	FeatureAPI        Feature = "api"
	FeatureChatbot    Feature = "chatbot"
)

// Plan is a resolved plan definition. Prices already include catalogue defaults.
type Plan struct {
	Code         string             `json:"code"`
	Name         string             `json:"name"`
	Features     map[Feature]bool   `json:"features"`
	DailyLimit   int64              `json:"daily_limit"`
	MonthlyLimit int64              `json:"monthly_limit"`
	Prices       map[Category]int64 `json:"prices"`
}

func (p Plan) Allows(feature Feature) bool {
	return p.Features[Feature(strings.ToLower(strings.TrimSpace(string(feature))))]
}

func (p Plan) UnitPrice(category Category) (int64, error) {
	price, ok := p.Prices[NormalizeCategory(category)]
	if !ok || price <= 0 {
		return 0, ErrUnknownCategory
	}
	return price, nil
}

func NormalizeCategory(category Category) Category {
	return Category(strings.ToLower(strings.TrimSpace(string(category))))
}

type Service interface {
	Get(ctx context.Context, code string) (Plan, error)
	Default(ctx context.Context) (Plan, error)
	DefaultUnitPrice(category Category) (int64, error)
	List(ctx context.Context) ([]Plan, error)
}

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrUnknownCategory = errors.New("unknown_category")
)
