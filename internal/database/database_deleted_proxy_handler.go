package database

import (
	"errors"
	"fmt"
	"time"

	"rota/internal/domain"

	"gorm.io/gorm"
)

var ErrDeletedProxyNotFound = errors.New("deleted proxy not found")

// ArchiveUnhealthyBefore moves proxies whose unhealthy streak started
// before cutoff into deleted_proxies, up to limit rows per call. Returns
// the archived rows so callers can drop them from the live registry.
func ArchiveUnhealthyBefore(cutoff time.Time, limit int) ([]domain.DeletedProxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("deleted proxy: database connection was not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	var archived []domain.DeletedProxy
	err := DB.Transaction(func(tx *gorm.DB) error {
		var candidates []domain.Proxy
		if err := tx.
			Where("status = ? AND unhealthy_since IS NOT NULL AND unhealthy_since < ?",
				domain.ProxyStatusUnhealthy, cutoff).
			Order("id ASC").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		now := time.Now()
		rows := make([]domain.DeletedProxy, 0, len(candidates))
		ids := make([]uint64, 0, len(candidates))
		for _, proxy := range candidates {
			rows = append(rows, deletedFromProxy(proxy, now))
			ids = append(ids, proxy.ID)
		}

		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Proxy{}, ids).Error; err != nil {
			return err
		}
		archived = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// ListDeletedProxies returns one page of the archive, newest first.
func ListDeletedProxies(limit, offset int) ([]domain.DeletedProxy, int64, error) {
	if DB == nil {
		return nil, 0, fmt.Errorf("deleted proxy: database connection was not initialised")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := DB.Model(&domain.DeletedProxy{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []domain.DeletedProxy
	if err := DB.
		Order("deleted_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// RestoreDeletedProxy moves an archived proxy back into the proxies table
// under its original id, active and with its unhealthy streak cleared.
func RestoreDeletedProxy(id uint64) (*domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("deleted proxy: database connection was not initialised")
	}

	var restored domain.Proxy
	err := DB.Transaction(func(tx *gorm.DB) error {
		var deleted domain.DeletedProxy
		if err := tx.First(&deleted, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeletedProxyNotFound
			}
			return err
		}

		restored = proxyFromDeleted(deleted)
		if err := tx.Create(&restored).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrProxyConflict
			}
			return err
		}
		return tx.Delete(&domain.DeletedProxy{}, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}

// PurgeDeletedProxy removes an archive row for good.
func PurgeDeletedProxy(id uint64) error {
	if DB == nil {
		return fmt.Errorf("deleted proxy: database connection was not initialised")
	}

	res := DB.Delete(&domain.DeletedProxy{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeletedProxyNotFound
	}
	return nil
}

func deletedFromProxy(proxy domain.Proxy, deletedAt time.Time) domain.DeletedProxy {
	return domain.DeletedProxy{
		ID:             proxy.ID,
		Host:           proxy.Host,
		Port:           proxy.Port,
		Protocol:       proxy.Protocol,
		Username:       proxy.Username,
		Password:       proxy.Password,
		Country:        proxy.Country,
		LatencyMS:      proxy.LatencyMS,
		LastCheckedAt:  proxy.LastCheckedAt,
		UnhealthySince: proxy.UnhealthySince,
		TotalRequests:  proxy.TotalRequests,
		TotalFailures:  proxy.TotalFailures,
		CreatedAt:      proxy.CreatedAt,
		DeletedAt:      deletedAt,
	}
}

func proxyFromDeleted(deleted domain.DeletedProxy) domain.Proxy {
	return domain.Proxy{
		ID:            deleted.ID,
		Host:          deleted.Host,
		Port:          deleted.Port,
		Protocol:      deleted.Protocol,
		Username:      deleted.Username,
		Password:      deleted.Password,
		Country:       deleted.Country,
		LatencyMS:     deleted.LatencyMS,
		LastCheckedAt: deleted.LastCheckedAt,
		Status:        domain.ProxyStatusActive,
		TotalRequests: deleted.TotalRequests,
		TotalFailures: deleted.TotalFailures,
		CreatedAt:     deleted.CreatedAt,
	}
}
