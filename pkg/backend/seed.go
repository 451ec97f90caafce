package backend

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Seed is the minimum domain data the backend needs before robots can be
// assigned to an inspection area.
type Seed struct {
	Installations   []Installation
	Plants          []Plant
	InspectionAreas []InspectionArea
	AccessRoles     []AccessRole
}

// DefaultAreaPolygon covers the whole plant.
func DefaultAreaPolygon() *AreaPolygon {
	return &AreaPolygon{
		ZMin: 0,
		ZMax: 10000000,
		Positions: []Position{
			{X: 0, Y: 0},
			{X: 0, Y: 10000000},
			{X: 10000000, Y: 0},
			{X: 10000000, Y: 10000000},
		},
	}
}

// DefaultSeed returns one installation, plant, inspection area and user
// access role for each of HUA, KAA and NLS.
func DefaultSeed() Seed {
	sites := []struct{ code, name string }{
		{"HUA", "Huldra"},
		{"KAA", "Kårstø"},
		{"NLS", "Northern Lights"},
	}

	var seed Seed
	for _, s := range sites {
		seed.Installations = append(seed.Installations, Installation{
			InstallationCode: s.code,
			Name:             s.name,
		})
		seed.Plants = append(seed.Plants, Plant{
			InstallationCode: s.code,
			PlantCode:        s.code,
			Name:             s.name,
		})
		seed.InspectionAreas = append(seed.InspectionAreas, InspectionArea{
			InstallationCode: s.code,
			PlantCode:        s.code,
			Name:             s.name + " Area",
			AreaPolygon:      DefaultAreaPolygon(),
		})
		seed.AccessRoles = append(seed.AccessRoles, AccessRole{
			InstallationCode: s.code,
			RoleName:         "Role.User." + s.code,
			AccessLevel:      "USER",
		})
	}
	return seed
}

// Collections returns the list endpoint and expected minimum count for each
// seeded collection.
func (s Seed) Collections() map[string]int {
	return map[string]int{
		"installations":   len(s.Installations),
		"plants":          len(s.Plants),
		"inspectionAreas": len(s.InspectionAreas),
		"access-roles":    len(s.AccessRoles),
	}
}

// Seed creates every item in seed. Installations go first since plants,
// areas and roles reference them.
func (c *Client) Seed(ctx context.Context, seed Seed) error {
	for _, in := range seed.Installations {
		if err := c.CreateInstallation(ctx, in); err != nil {
			return fmt.Errorf("error creating installation %s: %w", in.InstallationCode, err)
		}
	}
	for _, p := range seed.Plants {
		if err := c.CreatePlant(ctx, p); err != nil {
			return fmt.Errorf("error creating plant %s: %w", p.PlantCode, err)
		}
	}
	for _, a := range seed.InspectionAreas {
		if err := c.CreateInspectionArea(ctx, a); err != nil {
			return fmt.Errorf("error creating inspection area %q: %w", a.Name, err)
		}
	}
	for _, r := range seed.AccessRoles {
		if err := c.CreateAccessRole(ctx, r); err != nil {
			return fmt.Errorf("error creating access role %s: %w", r.RoleName, err)
		}
	}
	c.logger.Info("backend seeded",
		"installations", len(seed.Installations),
		"plants", len(seed.Plants),
		"inspection_areas", len(seed.InspectionAreas),
		"access_roles", len(seed.AccessRoles),
	)
	return nil
}

// CheckSeeded returns an error describing every collection that has fewer
// items than seed expects.
func (c *Client) CheckSeeded(ctx context.Context, seed Seed) error {
	var result *multierror.Error
	for _, path := range []string{"installations", "plants", "inspectionAreas", "access-roles"} {
		want := seed.Collections()[path]
		got, err := c.Count(ctx, path)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("error listing %s: %w", path, err))
			continue
		}
		if got < want {
			result = multierror.Append(result, fmt.Errorf("%s: have %d, want %d", path, got, want))
		}
	}
	return result.ErrorOrNil()
}
