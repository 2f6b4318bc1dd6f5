package liveserver

// Message represents a WebSocket message pushed to dashboard clients.
// Account tags portfolio-scoped messages so clients subscribed to a
// subset of accounts only receive what they asked for.
type Message struct {
	Type    string      `json:"type"`
	Account string      `json:"account,omitempty"`
	Data    interface{} `json:"data"`
}

// MessageType constants
const (
	TypePortfolio = "portfolio"
	TypePosition  = "position"
	TypeQuote     = "quote"
	TypeGreeks    = "greeks"
	TypeAlert     = "alert"
	TypeAccounts  = "accounts"
	TypeStatus    = "status"
)

// NewMessage creates a Message
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}

// NewPortfolioMessage creates a portfolio snapshot message for one account
func NewPortfolioMessage(account string, data interface{}) Message {
	return Message{Type: TypePortfolio, Account: account, Data: data}
}

// NewPositionMessage creates a position update message for one account
func NewPositionMessage(account string, data interface{}) Message {
	return Message{Type: TypePosition, Account: account, Data: data}
}

// NewQuoteMessage creates a quote update message
func NewQuoteMessage(data interface{}) Message {
	return NewMessage(TypeQuote, data)
}

// NewGreeksMessage creates a greeks update message
func NewGreeksMessage(data interface{}) Message {
	return NewMessage(TypeGreeks, data)
}

// NewAlertMessage creates an alert message
func NewAlertMessage(data interface{}) Message {
	return NewMessage(TypeAlert, data)
}

// NewAccountsMessage creates an account list message
func NewAccountsMessage(data interface{}) Message {
	return NewMessage(TypeAccounts, data)
}

// NewStatusMessage creates a service status message
func NewStatusMessage(data interface{}) Message {
	return NewMessage(TypeStatus, data)
}
