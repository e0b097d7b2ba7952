package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidewaylabs/tideway/internal/notification/domain"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher records every notification request and logs it. Outbound
// delivery (email, in-app, push) is handled downstream; a lost request
// here is not retried by the billing engine.
type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger
}

type DispatcherParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewDispatcher(p DispatcherParam) domain.Requester {
	return &Dispatcher{
		db:  p.DB,
		log: p.Log.Named("notification.dispatcher"),
	}
}

func (d *Dispatcher) Request(ctx context.Context, n domain.Notification) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	record := domain.Request{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		UserRef:   n.UserRef,
		Template:  string(n.Template),
		Channel:   string(n.Channel),
		CreatedAt: time.Now().UTC(),
	}
	if len(n.Data) > 0 {
		if raw, err := json.Marshal(n.Data); err == nil {
			record.Data = raw
		}
	}

	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		d.log.Warn("failed to record notification request",
			zap.String("template", string(n.Template)),
			zap.Error(err))
		return
	}

	d.log.Info("notification requested",
		zap.String("template", string(n.Template)),
		zap.String("channel", string(n.Channel)),
		zap.String("user_ref", n.UserRef))
}
