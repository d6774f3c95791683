package server

import (
	"net/http"
	"sort"
	"strings"

	"rota/internal/api/dto"
	"rota/internal/jobs/runtime"
	"rota/internal/support"
)

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	current := runtime.CurrentInstance()

	active := []runtime.ActiveInstance{current}
	if client, err := support.GetRedisClient(); err == nil {
		discovered, listErr := runtime.ListActiveInstances(r.Context(), client)
		if listErr != nil {
			writeError(w, "Failed to load instances", http.StatusInternalServerError)
			return
		}
		if len(discovered) > 0 {
			active = discovered
		}
	}

	instances := make([]dto.Instance, 0, len(active))
	for _, instance := range active {
		id := strings.TrimSpace(instance.ID)
		if id == "" {
			continue
		}
		instances = append(instances, dto.Instance{
			ID:        id,
			Name:      instance.Name,
			Region:    instance.Region,
			ProxyPort: instance.ProxyPort,
			APIPort:   instance.APIPort,
			Current:   id == current.ID,
		})
	}

	sort.Slice(instances, func(i, j int) bool {
		left := strings.ToLower(instances[i].Region + ":" + instances[i].Name + ":" + instances[i].ID)
		right := strings.ToLower(instances[j].Region + ":" + instances[j].Name + ":" + instances[j].ID)
		return left < right
	})

	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}
