package main

import (
	"fmt"

	eventsource "github.com/oxtal/eventsource"
)

// FrequentFlierAccount tracks the miles and tier points of one customer. It
// tracks changes on itself in the form of domain events. The fields are
// exported so the state can be snapshotted.
type FrequentFlierAccount struct {
	eventsource.AggregateRoot
	Miles      int
	TierPoints int
	Status     Status
}

// Status represents the Red, Silver or Gold tier level of a FrequentFlierAccount
type Status int

const (
	StatusRed Status = iota
	StatusSilver
	StatusGold
)

func (s Status) String() string {
	switch s {
	case StatusSilver:
		return "Silver"
	case StatusGold:
		return "Gold"
	default:
		return "Red"
	}
}

// FrequentFlierAccountCreated opens the account
type FrequentFlierAccountCreated struct {
	OpeningMiles      int
	OpeningTierPoints int
}

// FlightTaken records miles and tier points earned on one flight
type FlightTaken struct {
	MilesAdded      int
	TierPointsAdded int
}

// StatusMatched moves the account to a new tier level
type StatusMatched struct {
	NewStatus Status
}

// PromotedToGoldStatus moves the account to the gold tier
type PromotedToGoldStatus struct{}

// CreateFrequentFlierAccount constructor
func CreateFrequentFlierAccount(id string) (*FrequentFlierAccount, error) {
	account := FrequentFlierAccount{}
	if err := account.SetID(id); err != nil {
		return nil, err
	}
	account.TrackChange(&account, &FrequentFlierAccountCreated{OpeningMiles: 0, OpeningTierPoints: 0})
	return &account, nil
}

// RecordFlightTaken is used to record the fact that a customer has taken a
// flight which should be attached to this frequent flier account. The number
// of miles and tier points which apply are calculated externally.
//
// If recording this flight takes the account over a status boundary, it will
// automatically upgrade the account to the new status level.
func (f *FrequentFlierAccount) RecordFlightTaken(miles int, tierPoints int) {
	f.TrackChange(f, &FlightTaken{MilesAdded: miles, TierPointsAdded: tierPoints})

	if f.TierPoints > 10 && f.Status == StatusRed {
		f.TrackChange(f, &StatusMatched{NewStatus: StatusSilver})
	}
	if f.TierPoints > 20 && f.Status != StatusGold {
		f.TrackChange(f, &PromotedToGoldStatus{})
	}
}

// Transition implements the pattern match against event types used both as
// part of the fold when loading from history and when tracking an individual
// change.
func (f *FrequentFlierAccount) Transition(event eventsource.Event) {
	switch e := event.Data().(type) {
	case *FrequentFlierAccountCreated:
		f.Miles = e.OpeningMiles
		f.TierPoints = e.OpeningTierPoints
		f.Status = StatusRed
	case *FlightTaken:
		f.Miles += e.MilesAdded
		f.TierPoints += e.TierPointsAdded
	case *StatusMatched:
		f.Status = e.NewStatus
	case *PromotedToGoldStatus:
		f.Status = StatusGold
	}
}

// Register the account events
func (f *FrequentFlierAccount) Register(r eventsource.RegisterFunc) {
	r(&FrequentFlierAccountCreated{}, &FlightTaken{}, &StatusMatched{}, &PromotedToGoldStatus{})
}

// String implements Stringer for FrequentFlierAccount instances
func (f FrequentFlierAccount) String() string {
	format := `FrequentFlierAccount: %s
	Miles: %d
	TierPoints: %d
	Status: %s
	(Version: %d)
`
	return fmt.Sprintf(format, f.ID(), f.Miles, f.TierPoints, f.Status, f.Version())
}
