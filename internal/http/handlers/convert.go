package handlers

import (
	"parcelflow/internal/domain"
	"parcelflow/internal/service/driver"
)

func (r createDriverRequest) toModel() driver.NewDriver {
	return driver.NewDriver{
		Name:      r.Name,
		Phone:     r.Phone,
		Vehicle:   r.Vehicle,
		Available: r.Available,
	}
}

func driverToResponse(d domain.Driver) driverDTO {
	return driverDTO{
		ID:        d.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		Vehicle:   d.Vehicle,
		Available: d.Available,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func driversToResponse(list []domain.Driver) []driverDTO {
	out := make([]driverDTO, 0, len(list))
	for _, d := range list {
		out = append(out, driverToResponse(d))
	}
	return out
}
