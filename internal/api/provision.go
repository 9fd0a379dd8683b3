package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tms-dashboard/internal/models"
	"tms-dashboard/internal/store"
)

type saveProdDataRequest struct {
	Cluster       string   `json:"cluster"`
	DeviceType    string   `json:"device_type"`
	DataSourceURL string   `json:"data_source_url"`
	CustomerIDs   []string `json:"customer_ids"`
	TotalDevices  int      `json:"total_devices"`
}

func (s *Server) handleSaveProdData(w http.ResponseWriter, r *http.Request) {
	var req saveProdDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Cluster == "" || req.DeviceType == "" {
		writeError(w, http.StatusBadRequest, "cluster and device_type are required")
		return
	}

	cids := models.NormalizeCustomerIDs(req.CustomerIDs)
	if len(cids) == 0 {
		writeError(w, http.StatusBadRequest, "customer_ids must be a non-empty list")
		return
	}

	err := s.provision.UpsertCustomerData(r.Context(), models.ProdCustomerData{
		Cluster:       req.Cluster,
		DeviceType:    req.DeviceType,
		DataSourceURL: req.DataSourceURL,
		CustomerIDs:   cids,
		TotalDevices:  req.TotalDevices,
		CreatedBy:     currentUser(r),
	})
	if err != nil {
		log.Printf("save prod data %s/%s: %v", req.Cluster, req.DeviceType, err)
		writeError(w, http.StatusInternalServerError, "failed to save customer data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"total_customers": len(cids),
		"total_devices":   req.TotalDevices,
	})
}

func (s *Server) handleGetProdData(w http.ResponseWriter, r *http.Request) {
	cluster := r.URL.Query().Get("cluster")
	deviceType := r.URL.Query().Get("device_type")
	if cluster == "" || deviceType == "" {
		writeError(w, http.StatusBadRequest, "cluster and device_type are required")
		return
	}

	data, err := s.provision.GetCustomerData(r.Context(), cluster, deviceType)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no customer data for this cluster and device type")
		return
	}
	if err != nil {
		log.Printf("get prod data %s/%s: %v", cluster, deviceType, err)
		writeError(w, http.StatusInternalServerError, "failed to load customer data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleListProdData(w http.ResponseWriter, r *http.Request) {
	data, err := s.provision.ListCustomerData(r.Context())
	if err != nil {
		log.Printf("list prod data: %v", err)
		data = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(data),
		"data":    data,
	})
}

type deleteProdDataRequest struct {
	Cluster    string `json:"cluster"`
	DeviceType string `json:"device_type"`
}

func (s *Server) handleDeleteProdData(w http.ResponseWriter, r *http.Request) {
	var req deleteProdDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Cluster == "" || req.DeviceType == "" {
		writeError(w, http.StatusBadRequest, "cluster and device_type are required")
		return
	}
	if err := s.provision.DeleteCustomerData(r.Context(), req.Cluster, req.DeviceType); err != nil {
		log.Printf("delete prod data %s/%s: %v", req.Cluster, req.DeviceType, err)
		writeError(w, http.StatusInternalServerError, "failed to delete customer data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type generateBatchesRequest struct {
	Cluster         string `json:"cluster"`
	DeviceSelection string `json:"device_selection"`
	DeviceCap       int    `json:"device_cap"`
}

func (s *Server) handleGenerateBatches(w http.ResponseWriter, r *http.Request) {
	var req generateBatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Cluster == "" || req.DeviceSelection == "" {
		writeError(w, http.StatusBadRequest, "cluster and device_selection are required")
		return
	}
	if req.DeviceCap <= 0 {
		writeError(w, http.StatusBadRequest, "device_cap must be positive")
		return
	}

	data, err := s.provision.GetCustomerData(r.Context(), req.Cluster, req.DeviceSelection)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no stored customer data for this cluster and device selection")
		return
	}
	if err != nil {
		log.Printf("load prod data for batch generation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load customer data")
		return
	}

	plan, err := s.provision.GenerateBatches(r.Context(), store.GenerateBatchesParams{
		Cluster:         req.Cluster,
		DeviceSelection: req.DeviceSelection,
		DeviceCap:       req.DeviceCap,
		CustomerIDs:     data.CustomerIDs,
		TotalCustomers:  data.TotalCustomers,
		TotalDevices:    data.TotalDevices,
		CreatedBy:       currentUser(r),
	})
	if err != nil {
		log.Printf("generate batches %s/%s: %v", req.Cluster, req.DeviceSelection, err)
		writeError(w, http.StatusInternalServerError, "failed to generate batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plan": plan})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	cluster := r.URL.Query().Get("cluster")
	deviceSelection := r.URL.Query().Get("device_selection")
	if cluster == "" || deviceSelection == "" {
		writeError(w, http.StatusBadRequest, "cluster and device_selection are required")
		return
	}

	batches, err := s.provision.Batches(r.Context(), cluster, deviceSelection)
	if err != nil {
		log.Printf("list batches %s/%s: %v", cluster, deviceSelection, err)
		batches = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(batches),
		"batches": batches,
	})
}

type batchRequest struct {
	BatchID  string   `json:"batch_id"`
	BatchIDs []string `json:"batch_ids"`
}

func (s *Server) handleAssignBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}

	user := currentUser(r)
	switch err := s.provision.AssignBatch(r.Context(), req.BatchID, user); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Batch assigned to " + user,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Batch not found: "+req.BatchID)
	case errors.Is(err, store.ErrAlreadyAssigned):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"message": "Batch is already assigned to another user",
		})
	default:
		log.Printf("assign batch %s: %v", req.BatchID, err)
		writeError(w, http.StatusInternalServerError, "failed to assign batch")
	}
}

func (s *Server) handleAssignBatches(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.BatchIDs) == 0 {
		writeError(w, http.StatusBadRequest, "batch_ids must be a non-empty list")
		return
	}

	assigned, skipped, err := s.provision.AssignBatches(r.Context(), req.BatchIDs, currentUser(r))
	if err != nil {
		log.Printf("assign batches: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to assign batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"assigned": assigned,
		"skipped":  skipped,
	})
}

func (s *Server) handleUnassignBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}

	// Admins may release anyone's batch; everyone else only their own.
	user := currentUser(r)
	owner := user
	if s.directory.IsAdmin(user) {
		owner = ""
	}
	switch err := s.provision.UnassignBatch(r.Context(), req.BatchID, owner); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Batch unassigned"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Batch not found or ownership mismatch")
	default:
		log.Printf("unassign batch %s: %v", req.BatchID, err)
		writeError(w, http.StatusInternalServerError, "failed to unassign batch")
	}
}

type deleteBatchRequest struct {
	BatchID         string `json:"batch_id"`
	Cluster         string `json:"cluster"`
	DeviceSelection string `json:"device_selection"`
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req deleteBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	switch {
	case req.BatchID != "":
		if err := s.provision.DeleteBatch(r.Context(), req.BatchID); err != nil {
			log.Printf("delete batch %s: %v", req.BatchID, err)
			writeError(w, http.StatusInternalServerError, "failed to delete batch")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case req.Cluster != "" && req.DeviceSelection != "":
		deleted, err := s.provision.DeleteBatches(r.Context(), req.Cluster, req.DeviceSelection)
		if err != nil {
			log.Printf("delete batches %s/%s: %v", req.Cluster, req.DeviceSelection, err)
			writeError(w, http.StatusInternalServerError, "failed to delete batches")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": deleted})
	default:
		writeError(w, http.StatusBadRequest, "batch_id or cluster and device_selection are required")
	}
}
