package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// preloadPrices loads the price history of server types in ascending order by effective date.
func preloadPrices(db *gorm.DB) *gorm.DB {
	return db.Preload("Prices", func(db *gorm.DB) *gorm.DB {
		return db.Order("effective_date asc")
	})
}

// GetServerType looks up the server type with the given name along with its price history.
func (s *Store) GetServerType(ctx context.Context, name string) (*model.ServerType, error) {
	wrapMsg := fmt.Sprintf("unable to look up server type '%s'", name)

	var serverType model.ServerType
	err := preloadPrices(s.db.WithContext(ctx)).
		Where(&model.ServerType{Name: name}).
		First(&serverType).
		Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return &serverType, nil
}

// ListServerTypes lists all of the server types in the catalogue.
func (s *Store) ListServerTypes(ctx context.Context) ([]model.ServerType, error) {
	wrapMsg := "unable to list server types"

	serverTypes := make([]model.ServerType, 0)
	err := preloadPrices(s.db.WithContext(ctx)).
		Order("name asc").
		Find(&serverTypes).
		Error
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return serverTypes, nil
}

// UpsertServerType inserts or updates a server type by name and appends prices to its history.
func (s *Store) UpsertServerType(ctx context.Context, serverType *model.ServerType, prices []model.ServerTypePrice) error {
	wrapMsg := fmt.Sprintf("unable to save server type '%s'", serverType.Name)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &model.ServerType{
			Name:        serverType.Name,
			Description: serverType.Description,
			Cores:       serverType.Cores,
			MemoryGB:    serverType.MemoryGB,
			DiskGB:      serverType.DiskGB,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "cores", "memory_gb", "disk_gb"}),
		}).Create(record).Error
		if err != nil {
			return err
		}

		// Look the ID up if the driver didn't return it.
		if record.ID == nil {
			if err := tx.Where(&model.ServerType{Name: record.Name}).First(record).Error; err != nil {
				return err
			}
		}

		if len(prices) == 0 {
			return nil
		}
		rows := make([]model.ServerTypePrice, len(prices))
		for i, p := range prices {
			rows[i] = model.ServerTypePrice{
				ServerTypeID:  record.ID,
				Location:      p.Location,
				EffectiveDate: p.EffectiveDate,
				PriceHourly:   p.PriceHourly,
			}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// HourlyPrice returns the hourly price of a server type in a location at the given time.
func (s *Store) HourlyPrice(ctx context.Context, serverType, location string, at time.Time) (float64, error) {
	serverTypeRecord, err := s.GetServerType(ctx, serverType)
	if err != nil {
		return 0, err
	}
	if serverTypeRecord == nil {
		return 0, fmt.Errorf("unknown server type %s", serverType)
	}

	price, err := serverTypeRecord.ActivePrice(location, at)
	if err != nil {
		return 0, err
	}
	return price.PriceHourly, nil
}
