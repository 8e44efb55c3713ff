package types

// Member is one entry in a presence channel's membership.
type Member struct {
	Id          string `json:"id" mapstructure:"id"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
}

// MembershipSnapshot is the full membership of a presence channel as delivered
// by a subscription-succeeded event. It is ephemeral: a fresh subscription
// replaces it wholesale, it is never carried across reconnects.
type MembershipSnapshot struct {
	Count   int      `json:"count" mapstructure:"count"`
	Members []Member `json:"members" mapstructure:"members"`
}
