package places

import "backend-selfbell/internal/api"

type Place = api.Place

type CreateRequest struct {
	Kind    api.PlaceKind `json:"kind"`
	Name    string        `json:"name"`
	Address string        `json:"address"`
	Lat     float64       `json:"lat"`
	Lon     float64       `json:"lon"`
}

type NearbyQuery struct {
	Lat     float64
	Lon     float64
	RadiusM float64
	Kind    api.PlaceKind
	Limit   int
}

const (
	defaultRadiusM = 1000.0
	maxRadiusM     = 20000.0
	defaultLimit   = 100
)
