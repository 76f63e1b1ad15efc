package postgres

import (
	"time"

	"autoTrader/internal/domain"
)

type signalModel struct {
	ID          string    `gorm:"primaryKey;size:26"`
	Instrument  string    `gorm:"index:idx_signals_instrument_time;not null"`
	StrategyID  string    `gorm:"not null"`
	Direction   string    `gorm:"not null"`
	Strength    float64   `gorm:"not null"`
	GeneratedAt time.Time `gorm:"index:idx_signals_instrument_time;not null"`
	Rationale   string
}

func (signalModel) TableName() string { return "signals" }

type outcomeModel struct {
	ClientReference string `gorm:"primaryKey"`
	Instrument      string `gorm:"not null"`
	Side            string `gorm:"not null"`
	Status          string `gorm:"not null"`
	FilledQuantity  float64
	FilledPrice     float64
	ErrorDetail     string
	Attempts        int
	RecordedAt      time.Time
}

func (outcomeModel) TableName() string { return "order_outcomes" }

type tradeModel struct {
	ID              string    `gorm:"primaryKey;size:26"`
	ClientReference string    `gorm:"uniqueIndex;not null"`
	Market          string    `gorm:"not null"`
	Instrument      string    `gorm:"not null"`
	Side            string    `gorm:"not null"`
	Quantity        float64   `gorm:"not null"`
	Price           float64   `gorm:"not null"`
	RealizedPnL     float64   `gorm:"column:realized_pnl"`
	StrategyID      string    `gorm:"not null"`
	ExecutedAt      time.Time `gorm:"index;not null"`
}

func (tradeModel) TableName() string { return "trades" }

type snapshotModel struct {
	ID         string    `gorm:"primaryKey;size:26"`
	Market     string    `gorm:"not null"`
	Instrument string    `gorm:"uniqueIndex:idx_snapshot_bar;not null"`
	BarTime    time.Time `gorm:"uniqueIndex:idx_snapshot_bar;not null"`
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

func (snapshotModel) TableName() string { return "market_snapshots" }

type summaryModel struct {
	Market       string `gorm:"primaryKey"`
	Date         string `gorm:"primaryKey;size:10"`
	Trades       int
	Wins         int
	Losses       int
	RealizedPnL  float64 `gorm:"column:realized_pnl"`
	WinRate      float64
	ProfitFactor float64
	CreatedAt    time.Time
}

func (summaryModel) TableName() string { return "daily_summaries" }

type strategyResultModel struct {
	Market      string `gorm:"primaryKey"`
	Date        string `gorm:"primaryKey;size:10"`
	StrategyID  string `gorm:"primaryKey"`
	Trades      int
	Wins        int
	Losses      int
	RealizedPnL float64 `gorm:"column:realized_pnl"`
}

func (strategyResultModel) TableName() string { return "strategy_performance" }

func toTradeModel(t domain.TradeRecord) tradeModel {
	return tradeModel{
		ID:              t.ID,
		ClientReference: t.ClientReference,
		Market:          t.Market,
		Instrument:      t.Instrument,
		Side:            string(t.Side),
		Quantity:        t.Quantity,
		Price:           t.Price,
		RealizedPnL:     t.RealizedPnL,
		StrategyID:      t.StrategyID,
		ExecutedAt:      t.ExecutedAt.UTC(),
	}
}

func (m tradeModel) toDomain() domain.TradeRecord {
	return domain.TradeRecord{
		ID:              m.ID,
		ClientReference: m.ClientReference,
		Market:          m.Market,
		Instrument:      m.Instrument,
		Side:            domain.OrderSide(m.Side),
		Quantity:        m.Quantity,
		Price:           m.Price,
		RealizedPnL:     m.RealizedPnL,
		StrategyID:      m.StrategyID,
		ExecutedAt:      m.ExecutedAt.UTC(),
	}
}

func toOutcomeModel(o domain.OrderOutcome) outcomeModel {
	return outcomeModel{
		ClientReference: o.ClientReference,
		Instrument:      o.Instrument,
		Side:            string(o.Side),
		Status:          string(o.Status),
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
		ErrorDetail:     o.ErrorDetail,
		Attempts:        o.Attempts,
		RecordedAt:      o.RecordedAt.UTC(),
	}
}

func (m outcomeModel) toDomain() domain.OrderOutcome {
	return domain.OrderOutcome{
		ClientReference: m.ClientReference,
		Instrument:      m.Instrument,
		Side:            domain.OrderSide(m.Side),
		Status:          domain.OrderStatus(m.Status),
		FilledQuantity:  m.FilledQuantity,
		FilledPrice:     m.FilledPrice,
		ErrorDetail:     m.ErrorDetail,
		Attempts:        m.Attempts,
		RecordedAt:      m.RecordedAt.UTC(),
	}
}

func toSignalModel(id string, s domain.Signal) signalModel {
	return signalModel{
		ID:          id,
		Instrument:  s.Instrument,
		StrategyID:  s.StrategyID,
		Direction:   string(s.Direction),
		Strength:    s.Strength,
		GeneratedAt: s.GeneratedAt.UTC(),
		Rationale:   s.Rationale,
	}
}

func toSnapshotModel(id string, s domain.MarketSnapshot) snapshotModel {
	return snapshotModel{
		ID:         id,
		Market:     s.Market,
		Instrument: s.Bar.Instrument,
		BarTime:    s.Bar.Timestamp.UTC(),
		Open:       s.Bar.Open,
		High:       s.Bar.High,
		Low:        s.Bar.Low,
		Close:      s.Bar.Close,
		Volume:     s.Bar.Volume,
	}
}

func toSummaryModel(s domain.DailySummary) summaryModel {
	return summaryModel{
		Market:       s.Market,
		Date:         s.Date,
		Trades:       s.Trades,
		Wins:         s.Wins,
		Losses:       s.Losses,
		RealizedPnL:  s.RealizedPnL,
		WinRate:      s.WinRate,
		ProfitFactor: s.ProfitFactor,
		CreatedAt:    s.CreatedAt.UTC(),
	}
}

func toStrategyResultModels(s domain.DailySummary) []strategyResultModel {
	out := make([]strategyResultModel, len(s.Strategies))
	for i, r := range s.Strategies {
		out[i] = strategyResultModel{
			Market:      s.Market,
			Date:        s.Date,
			StrategyID:  r.StrategyID,
			Trades:      r.Trades,
			Wins:        r.Wins,
			Losses:      r.Losses,
			RealizedPnL: r.RealizedPnL,
		}
	}
	return out
}
