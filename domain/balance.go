package domain

// Balance is the credit balance of an account.
type Balance struct {
	Balance          int    `json:"balance"`
	TotalBalance     int    `json:"totalBalance"`
	ReservedTokens   int    `json:"reservedTokens"`
	SubscriptionPlan string `json:"subscriptionPlan,omitempty"`
	IsPremium        bool   `json:"isPremium"`
}
