package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"main/internal/model"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// orderRow is the gorm mapping for the orders table. The audit trail
// lives in a single JSON column so a transition and its history entry
// commit in one row update.
type orderRow struct {
	ID            string         `gorm:"column:id;primaryKey"`
	TokenIn       string         `gorm:"column:token_in"`
	TokenOut      string         `gorm:"column:token_out"`
	AmountIn      string         `gorm:"column:amount_in"`
	Status        string         `gorm:"column:status;index"`
	History       datatypes.JSON `gorm:"column:status_history"`
	DexUsed       string         `gorm:"column:dex_used"`
	ExecutedPrice string         `gorm:"column:executed_price"`
	TxHash        string         `gorm:"column:tx_hash"`
	FailureReason string         `gorm:"column:failure_reason"`
	CreatedAt     time.Time      `gorm:"column:created_at;index"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (orderRow) TableName() string { return "orders" }

// Postgres is the gorm-backed Store.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres opens a connection pool and migrates the orders table.
func NewPostgres(opt PostgresOption) (*Postgres, error) {
	connString, err := opt.dsn()
	if err != nil {
		return nil, err
	}

	config := opt.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.AutoMigrate(&orderRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate orders table")
	}
	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) Create(ctx context.Context, order *model.Order) error {
	row, err := toRow(order)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(row).Error
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var row orderRow
	err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

func (p *Postgres) Update(ctx context.Context, id string, fields Fields) (*model.Order, error) {
	updates := make(map[string]any, 7)
	if fields.Status != nil {
		updates["status"] = string(*fields.Status)
	}
	if fields.History != nil {
		data, err := json.Marshal(fields.History)
		if err != nil {
			return nil, errors.Wrap(err, "marshal status history")
		}
		updates["status_history"] = datatypes.JSON(data)
	}
	if fields.DexUsed != nil {
		updates["dex_used"] = *fields.DexUsed
	}
	if fields.ExecutedPrice != nil {
		updates["executed_price"] = *fields.ExecutedPrice
	}
	if fields.TxHash != nil {
		updates["tx_hash"] = *fields.TxHash
	}
	if fields.FailureReason != nil {
		updates["failure_reason"] = *fields.FailureReason
	}
	if fields.UpdatedAt != nil {
		updates["updated_at"] = *fields.UpdatedAt
	} else {
		updates["updated_at"] = time.Now().UTC()
	}

	res := p.db.WithContext(ctx).Model(&orderRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return p.FindByID(ctx, id)
}

func (p *Postgres) FindMany(ctx context.Context, filter Filter) ([]*model.Order, error) {
	query := p.db.WithContext(ctx).Model(&orderRow{}).Order("created_at DESC")
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []orderRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Order, 0, len(rows))
	for i := range rows {
		order, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func toRow(order *model.Order) (*orderRow, error) {
	history, err := json.Marshal(order.History)
	if err != nil {
		return nil, errors.Wrap(err, "marshal status history")
	}
	return &orderRow{
		ID:            order.ID,
		TokenIn:       order.TokenIn,
		TokenOut:      order.TokenOut,
		AmountIn:      order.AmountIn,
		Status:        string(order.Status),
		History:       history,
		DexUsed:       order.DexUsed,
		ExecutedPrice: order.ExecutedPrice,
		TxHash:        order.TxHash,
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}, nil
}

func fromRow(row *orderRow) (*model.Order, error) {
	var history []model.StatusEntry
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &history); err != nil {
			return nil, errors.Wrap(err, "unmarshal status history")
		}
	}
	return &model.Order{
		ID:            row.ID,
		TokenIn:       row.TokenIn,
		TokenOut:      row.TokenOut,
		AmountIn:      row.AmountIn,
		Status:        model.Status(row.Status),
		History:       history,
		DexUsed:       row.DexUsed,
		ExecutedPrice: row.ExecutedPrice,
		TxHash:        row.TxHash,
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

func (opt PostgresOption) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
