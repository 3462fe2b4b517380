package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
)

// Seed is the JSON catalog loaded by the seed command.
type Seed struct {
	Regions []SeedRegion `json:"regions"`
	Crops   []SeedCrop   `json:"crops"` // shared across systems
}

type SeedRegion struct {
	Name    string       `json:"name"`
	Systems []SeedSystem `json:"systems"`
}

type SeedSystem struct {
	Name       string         `json:"name"`
	Facilities []SeedFacility `json:"facilities"`
	Crops      []SeedCrop     `json:"crops"`
}

type SeedFacility struct {
	Name       string        `json:"name"`
	CrestLevel *float64      `json:"crest_level"`
	MinLevel   *float64      `json:"min_level"`
	MaxLevel   *float64      `json:"max_level"`
	MinVolume  *float64      `json:"min_volume"`
	MaxVolume  *float64      `json:"max_volume"`
	Curve      []SeedPoint   `json:"curve"`
	Channels   []SeedChannel `json:"channels"`
}

type SeedChannel struct {
	Code  string      `json:"code"`
	Name  string      `json:"name"`
	Curve []SeedPoint `json:"curve"`
}

type SeedCrop struct {
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Coefficients []float64 `json:"coefficients"`
}

type SeedPoint struct {
	Gauge  float64 `json:"gauge"`
	Volume float64 `json:"volume"`
}

// SeedResult counts what ApplySeed created.
type SeedResult struct {
	Regions, Systems, Facilities, Channels, Crops, CurvePoints int
}

func ParseSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

// ApplySeed inserts the catalog. It is not idempotent; run it on an empty
// database.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) (*SeedResult, error) {
	res := &SeedResult{}

	addCrop := func(systemID int64, c SeedCrop) error {
		if len(c.Coefficients) > demand.MonthCount {
			return fmt.Errorf("crop %q: %d coefficients, want at most %d", c.Name, len(c.Coefficients), demand.MonthCount)
		}
		if _, err := s.CreateCrop(ctx, models.Crop{
			SystemID:     systemID,
			Name:         c.Name,
			Category:     c.Category,
			Coefficients: demand.MonthsFrom(c.Coefficients),
		}); err != nil {
			return fmt.Errorf("crop %q: %w", c.Name, err)
		}
		res.Crops++
		return nil
	}

	addCurve := func(kind models.ReadingKind, deviceID int64, points []SeedPoint) error {
		for _, p := range points {
			if err := s.UpsertCurvePoint(ctx, models.CurvePoint{Kind: kind, DeviceID: deviceID, Gauge: p.Gauge, Volume: p.Volume}); err != nil {
				return fmt.Errorf("%s %d curve point %v: %w", kind, deviceID, p.Gauge, err)
			}
			res.CurvePoints++
		}
		return nil
	}

	for _, c := range seed.Crops {
		if err := addCrop(0, c); err != nil {
			return nil, err
		}
	}

	for _, region := range seed.Regions {
		regionID, err := s.CreateRegion(ctx, region.Name)
		if err != nil {
			return nil, fmt.Errorf("region %q: %w", region.Name, err)
		}
		res.Regions++

		for _, sys := range region.Systems {
			systemID, err := s.CreateSystem(ctx, models.System{RegionID: regionID, Name: sys.Name})
			if err != nil {
				return nil, fmt.Errorf("system %q: %w", sys.Name, err)
			}
			res.Systems++

			for _, c := range sys.Crops {
				if err := addCrop(systemID, c); err != nil {
					return nil, err
				}
			}

			for _, f := range sys.Facilities {
				facilityID, err := s.CreateFacility(ctx, models.StorageFacility{
					SystemID:   systemID,
					Name:       f.Name,
					CrestLevel: nullFloat(f.CrestLevel),
					MinLevel:   nullFloat(f.MinLevel),
					MaxLevel:   nullFloat(f.MaxLevel),
					MinVolume:  nullFloat(f.MinVolume),
					MaxVolume:  nullFloat(f.MaxVolume),
				})
				if err != nil {
					return nil, fmt.Errorf("facility %q: %w", f.Name, err)
				}
				res.Facilities++
				if err := addCurve(models.ReadingStorage, facilityID, f.Curve); err != nil {
					return nil, err
				}

				for _, ch := range f.Channels {
					channelID, err := s.CreateChannel(ctx, models.Channel{FacilityID: facilityID, Code: ch.Code, Name: ch.Name})
					if err != nil {
						return nil, fmt.Errorf("channel %q: %w", ch.Code, err)
					}
					res.Channels++
					if err := addCurve(models.ReadingIntake, channelID, ch.Curve); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	s.logger.Info("seed applied",
		"regions", res.Regions,
		"systems", res.Systems,
		"facilities", res.Facilities,
		"channels", res.Channels,
		"crops", res.Crops,
		"curve_points", res.CurvePoints,
	)
	return res, nil
}
