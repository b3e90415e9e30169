package models

import "time"

// BlacklistEntry - символ, исключённый из торгуемой вселенной
//
// Селектор не включает такие символы в активный набор ни при каких скорах.
type BlacklistEntry struct {
	ID        int       `json:"id" db:"id"`
	Symbol    string    `json:"symbol" db:"symbol"` // BTCUSDT
	Reason    string    `json:"reason" db:"reason"` // заметка оператора
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
