package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gridwatch/internal/dto"
	"gridwatch/internal/logger"
	"gridwatch/internal/model"
	"gridwatch/internal/repository"
	"gridwatch/internal/service"
	"gridwatch/internal/service/device"
	"gridwatch/internal/service/state"
)

const maxOverrideBody = 1024

// OverrideHandler handles POST /api/override. A pin takes effect on the
// control loop's next tick. overrideRepo may be nil, which disables
// persistence. Store and database writes happen under one lock so the
// persisted pins always match the live ones.
func OverrideHandler(manager *service.Manager, overrideRepo repository.OverrideRepository, logger *logger.Logger) http.HandlerFunc {
	var mutex sync.Mutex

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		store := manager.GetStore()
		req, err := dto.DecodeOverrideRequest(http.MaxBytesReader(w, r.Body, maxOverrideBody))
		if err == nil {
			err = req.Validate(store.Spec())
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id := *req.DeviceID
		mutex.Lock()
		defer mutex.Unlock()

		if req.Clear {
			wasPinned, err := store.ClearOverride(id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if overrideRepo != nil {
				if err := overrideRepo.Delete(id); err != nil {
					logger.Error("Failed to delete override from database: %v", err)
				}
			}

			logger.Info("Manual override cleared for device %d", id)
			writeJSON(w, http.StatusOK, dto.OverrideResponse{
				Message:  fmt.Sprintf("Manual override cleared for device %d", id),
				DeviceID: id,
				Cleared:  wasPinned,
			})
			return
		}

		if err := store.SetOverride(id, *req.State); err != nil {
			writeStoreError(w, err)
			return
		}
		if overrideRepo != nil {
			o := &model.Override{DeviceID: id, State: *req.State, UpdatedAt: time.Now()}
			if err := overrideRepo.Save(o); err != nil {
				logger.Error("Failed to save override to database: %v", err)
			}
		}

		logger.Info("Manual override: device %d pinned %s", id, device.CommandName(*req.State))
		writeJSON(w, http.StatusOK, dto.OverrideResponse{
			Message:  fmt.Sprintf("Manual override set for device %d", id),
			DeviceID: id,
			State:    req.State,
		})
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrUnknownDevice) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
