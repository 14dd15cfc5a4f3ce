package delivery

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chanyoung/raidfs/pkg/raidrpc"
	"github.com/gorilla/mux"
)

func makeHandler(rnh RaidNodeHandlers) http.Handler {
	r := mux.NewRouter()

	ar := r.PathPrefix("/v1").Subrouter()

	ar.Methods("GET").Path("/policies").HandlerFunc(listPoliciesHandler(rnh))
	ar.Methods("GET").Path("/stats").HandlerFunc(statsHandler(rnh))
	ar.Methods("POST").Path("/recover").HandlerFunc(recoverHandler(rnh))

	return r
}

func listPoliciesHandler(rnh RaidNodeHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := &raidrpc.ListPoliciesResponse{}
		if err := rnh.ListPolicies(&raidrpc.ListPoliciesRequest{}, res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, res)
	}
}

func statsHandler(rnh RaidNodeHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jres := &raidrpc.JobStatsResponse{}
		if err := rnh.JobStats(&raidrpc.JobStatsRequest{}, jres); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		pres := &raidrpc.PlacementStatsResponse{}
		if err := rnh.PlacementStats(&raidrpc.PlacementStatsRequest{}, pres); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"jobs":      jres,
			"placement": pres,
		})
	}
}

func recoverHandler(rnh RaidNodeHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.FormValue("path")
		if path == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		offset, err := strconv.ParseInt(r.FormValue("offset"), 10, 64)
		if err != nil {
			http.Error(w, "bad offset", http.StatusBadRequest)
			return
		}

		res := &raidrpc.RecoverResponse{}
		if err := rnh.Recover(&raidrpc.RecoverRequest{Path: path, Offset: offset}, res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, res)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
