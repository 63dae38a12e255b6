package entities

// Account is a single remote-platform identity (phone number) managed by
// the gateway. API credentials are the pair the remote platform issued for
// this application.
type Account struct {
	Phone   string `json:"phone"`
	APIID   int    `json:"api_id"`
	APIHash string `json:"-"`
}

// Chat is one dialog visible to a connected account.
type Chat struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
}

// ChatMessage is a single entry from a chat history fetch. Date is RFC 3339.
type ChatMessage struct {
	ID           int    `json:"id"`
	Text         string `json:"text"`
	Date         string `json:"date"`
	Out          bool   `json:"out"`
	SenderID     int64  `json:"sender_id"`
	ReplyToMsgID int    `json:"reply_to_msg_id,omitempty"`
}
