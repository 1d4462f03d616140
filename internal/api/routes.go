package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/RMahshie/dosefit/internal/api/handlers"
	"github.com/RMahshie/dosefit/internal/processing"
	"github.com/RMahshie/dosefit/internal/repository"
	"github.com/RMahshie/dosefit/internal/storage"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, s3Service storage.S3Service, analysisRepo repository.AnalysisRepository, processingSvc processing.ProcessingService) {
	analysisHandler := handlers.NewAnalysisHandler(analysisRepo, s3Service, processingSvc)

	huma.Register(api, huma.Operation{
		OperationID: "createAnalysis",
		Method:      http.MethodPost,
		Path:        "/api/analyses",
		Summary:     "Create a new analysis",
		Description: "Creates a new analysis record and returns a dataset upload URL",
		Tags:        []string{"Analysis"},
	}, analysisHandler.CreateAnalysis)

	huma.Register(api, huma.Operation{
		OperationID: "listAnalyses",
		Method:      http.MethodGet,
		Path:        "/api/analyses",
		Summary:     "List analyses",
		Description: "Returns the analyses of a project, newest first",
		Tags:        []string{"Analysis"},
	}, analysisHandler.ListAnalyses)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalysisStatus",
		Method:      http.MethodGet,
		Path:        "/api/analyses/{id}/status",
		Summary:     "Get analysis status",
		Description: "Returns the current status and progress of an analysis",
		Tags:        []string{"Analysis"},
	}, analysisHandler.GetAnalysisStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalysisResults",
		Method:      http.MethodGet,
		Path:        "/api/analyses/{id}/results",
		Summary:     "Get analysis results",
		Description: "Returns the selected model per target, the rejected targets and the CSV report URL",
		Tags:        []string{"Analysis"},
	}, analysisHandler.GetAnalysisResults)

	huma.Register(api, huma.Operation{
		OperationID: "getTargetCurve",
		Method:      http.MethodGet,
		Path:        "/api/analyses/{id}/curves/{target}",
		Summary:     "Get target curve",
		Description: "Returns the prediction curve and confidence band of the model selected for a target",
		Tags:        []string{"Analysis"},
	}, analysisHandler.GetTargetCurve)

	huma.Register(api, huma.Operation{
		OperationID: "startProcessing",
		Method:      http.MethodPost,
		Path:        "/api/analyses/{id}/process",
		Summary:     "Start processing analysis",
		Description: "Starts fitting the uploaded dataset in the background",
		Tags:        []string{"Analysis"},
	}, analysisHandler.StartProcessing)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteAnalysis",
		Method:        http.MethodDelete,
		Path:          "/api/analyses/{id}",
		Summary:       "Delete analysis",
		Description:   "Deletes an analysis, its results and its stored files",
		Tags:          []string{"Analysis"},
		DefaultStatus: http.StatusNoContent,
	}, analysisHandler.DeleteAnalysis)
}
