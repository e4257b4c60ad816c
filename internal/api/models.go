// Package api holds the JSON wire types shared by the safe-walk server and
// its clients.
package api

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	StatusCreated    SessionStatus = "CREATED"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusEnded      SessionStatus = "ENDED"
)

type EndReason string

const (
	EndManual  EndReason = "MANUAL"
	EndArrived EndReason = "ARRIVED"
	EndTimeout EndReason = "TIMEOUT"
)

// Valid reports whether r is one of the known end reasons.
func (r EndReason) Valid() bool {
	switch r {
	case EndManual, EndArrived, EndTimeout:
		return true
	}
	return false
}

// TrackUploaded is the track response status that signals acceptance.
const TrackUploaded = "UPLOADED"

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Session is the client-side view of a created safe walk.
type Session struct {
	ID              int64         `json:"sessionId"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
	ExpectedArrival *time.Time    `json:"expectedArrival,omitempty"`
	TimerEnd        *time.Time    `json:"timerEnd,omitempty"`
	Topic           string        `json:"topic"`
}

// Deadline returns the earliest of TimerEnd and ExpectedArrival.
func (s Session) Deadline() (time.Time, bool) {
	var deadline time.Time
	for _, t := range []*time.Time{s.TimerEnd, s.ExpectedArrival} {
		if t == nil || t.IsZero() {
			continue
		}
		if deadline.IsZero() || t.Before(deadline) {
			deadline = *t
		}
	}
	return deadline, !deadline.IsZero()
}

type CreateRequest struct {
	Origin             Coordinate `json:"origin"`
	OriginAddress      string     `json:"originAddress"`
	Destination        Coordinate `json:"destination"`
	DestinationAddress string     `json:"destinationAddress"`
	ExpectedArrival    *time.Time `json:"expectedArrival,omitempty"`
	TimerMinutes       *int       `json:"timerMinutes,omitempty"`
	GuardianIDs        []int64    `json:"guardianIds"`
}

type TrackRequest struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracyM"`
	CapturedAt time.Time `json:"capturedAt"`
}

type TrackResponse struct {
	TrackID int64  `json:"trackId"`
	Status  string `json:"status"`
}

type EndRequest struct {
	Reason EndReason `json:"reason"`
}

type EndResponse struct {
	SessionID int64     `json:"sessionId"`
	Status    string    `json:"status"`
	Reason    EndReason `json:"reason"`
	EndedAt   time.Time `json:"endedAt"`
}

type Guardian struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SessionDetail is the full server record of a safe walk.
type SessionDetail struct {
	ID                 int64         `json:"sessionId"`
	WardID             int64         `json:"wardId"`
	WardName           string        `json:"wardName"`
	Status             SessionStatus `json:"status"`
	Origin             Coordinate    `json:"origin"`
	OriginAddress      string        `json:"originAddress"`
	Destination        Coordinate    `json:"destination"`
	DestinationAddress string        `json:"destinationAddress"`
	StartedAt          time.Time     `json:"startedAt"`
	ExpectedArrival    *time.Time    `json:"expectedArrival,omitempty"`
	TimerEnd           *time.Time    `json:"timerEnd,omitempty"`
	EndedAt            *time.Time    `json:"endedAt,omitempty"`
	EndReason          *EndReason    `json:"endReason,omitempty"`
	DistanceM          float64       `json:"distanceM"`
	LastLocation       *TrackItem    `json:"lastLocation,omitempty"`
	Guardians          []Guardian    `json:"guardians"`
	Topic              string        `json:"topic"`
}

// SessionState is the compact record returned by the current-session lookup.
type SessionState struct {
	ID         int64         `json:"sessionId"`
	WardID     int64         `json:"wardId"`
	WardName   string        `json:"wardName"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	TimerEnd   *time.Time    `json:"timerEnd,omitempty"`
	Topic      string        `json:"topic"`
	LastUpdate *TrackItem    `json:"lastLocation,omitempty"`
}

type TrackItem struct {
	TrackID    int64     `json:"trackId"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracyM"`
	CapturedAt time.Time `json:"capturedAt"`
}

type TrackPage struct {
	Items      []TrackItem `json:"items"`
	NextCursor *string     `json:"nextCursor,omitempty"`
}

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

type HistoryTarget string

const (
	TargetMe   HistoryTarget = "me"
	TargetWard HistoryTarget = "ward"
)

type HistoryItem struct {
	ID                 int64         `json:"sessionId"`
	WardID             int64         `json:"wardId"`
	WardName           string        `json:"wardName"`
	Status             SessionStatus `json:"status"`
	OriginAddress      string        `json:"originAddress"`
	DestinationAddress string        `json:"destinationAddress"`
	StartedAt          time.Time     `json:"startedAt"`
	EndedAt            *time.Time    `json:"endedAt,omitempty"`
	EndReason          *EndReason    `json:"endReason,omitempty"`
	DistanceM          float64       `json:"distanceM"`
}

// RealtimeEvent is the decoded view of any payload on a session topic.
// TRACK payloads are written with TrackEvent.
type RealtimeEvent struct {
	Type       string     `json:"type"`
	Lat        float64    `json:"lat,omitempty"`
	Lon        float64    `json:"lon,omitempty"`
	CapturedAt *time.Time `json:"capturedAt,omitempty"`
	Reason     EndReason  `json:"reason,omitempty"`
}

// TrackEvent is the TRACK payload. Coordinates are always written, so a
// fix on the equator or the prime meridian keeps its lat or lon field.
type TrackEvent struct {
	Type       string    `json:"type"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"capturedAt"`
}

func NewTrackEvent(lat, lon float64, capturedAt time.Time) TrackEvent {
	return TrackEvent{Type: EventTrack, Lat: lat, Lon: lon, CapturedAt: capturedAt}
}

const (
	EventTrack = "TRACK"
	EventEnd   = "END"
)

// TopicFor is the STOMP destination guardians subscribe to.
func TopicFor(sessionID int64) string {
	return fmt.Sprintf("/topic/safe-walk/%d", sessionID)
}

// PublishDestination is the STOMP destination wards send live points to.
func PublishDestination(sessionID int64) string {
	return fmt.Sprintf("/app/safe-walks/%d/track", sessionID)
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type PlaceKind string

const (
	PlaceCallBox  PlaceKind = "EMERGENCY_BELL"
	PlaceOffender PlaceKind = "OFFENDER"
)

type Place struct {
	ID        int64     `json:"id"`
	Kind      PlaceKind `json:"kind"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	DistanceM float64   `json:"distanceM,omitempty"`
}

type AlertKind string

const (
	AlertSOS         AlertKind = "SOS"
	AlertWalkTimeout AlertKind = "WALK_TIMEOUT"
)

// Alert is one guardian's copy of an emergency raised by a ward.
type Alert struct {
	ID          string     `json:"id"`
	WardID      int64      `json:"wardId"`
	WardName    string     `json:"wardName"`
	SessionID   *int64     `json:"sessionId,omitempty"`
	Kind        AlertKind  `json:"kind"`
	Message     string     `json:"message"`
	Lat         *float64   `json:"lat,omitempty"`
	Lon         *float64   `json:"lon,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

type RaiseAlertRequest struct {
	SessionID *int64   `json:"sessionId,omitempty"`
	Message   string   `json:"message"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
}

type RaiseAlertResponse struct {
	IDs      []string `json:"ids"`
	Notified int      `json:"notified"`
}
