package api

import (
	"net/http"

	"github.com/gpusched/gpusched/internal/core"
)

type gpuViewResponse struct {
	Index          int    `json:"index"`
	UUID           string `json:"uuid"`
	ModelName      string `json:"model_name"`
	MemoryTotalMiB *int   `json:"memory_total_mib,omitempty"`
	MemoryUsedMiB  *int   `json:"memory_used_mib,omitempty"`
	UtilizationPct *int   `json:"utilization_pct,omitempty"`
	AssignedTaskID *int64 `json:"assigned_task_id,omitempty"`
	IsFree         bool   `json:"is_free"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	views, err := s.scheduler.GPUStatus(r.Context())
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	res := make([]gpuViewResponse, 0, len(views))
	for _, v := range views {
		res = append(res, gpuViewToResponse(v))
	}
	writeJSON(w, http.StatusOK, res)
}

func gpuViewToResponse(v core.GPUView) gpuViewResponse {
	return gpuViewResponse{
		Index:          v.Index,
		UUID:           v.UUID,
		ModelName:      v.ModelName,
		MemoryTotalMiB: v.MemoryTotalMiB,
		MemoryUsedMiB:  v.MemoryUsedMiB,
		UtilizationPct: v.UtilizationPct,
		AssignedTaskID: v.AssignedTaskID,
		IsFree:         v.IsFree,
	}
}
