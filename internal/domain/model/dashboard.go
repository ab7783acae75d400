package model

// DashboardSummary is a read projection over posts and accounts.
type DashboardSummary struct {
	CountsByState  map[PostState]int
	CreatedLast30d int
	SentLast30d    int
	RecentFailures []ScheduledPost
	Upcoming       []ScheduledPost
	Accounts       []Credential
}
