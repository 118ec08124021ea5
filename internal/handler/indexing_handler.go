package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/service"
	"hoa-nexus-rag/pkg/log"
)

// IndexingHandler serves the admin indexing and recovery routes.
type IndexingHandler struct {
	indexing service.IndexingService
	recovery service.RecoveryService
}

func NewIndexingHandler(indexing service.IndexingService, recovery service.RecoveryService) *IndexingHandler {
	return &IndexingHandler{indexing: indexing, recovery: recovery}
}

type indexDocumentsRequest struct {
	CommunityID *string `json:"communityId"`
	FolderType  string  `json:"folderType"`
	Async       bool    `json:"async"`
}

type resetFailedRequest struct {
	Scope   model.Scope `json:"scope"`
	Trigger bool        `json:"trigger"`
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// IndexDocuments runs or queues a batch over the requested scope.
func (h *IndexingHandler) IndexDocuments(c *gin.Context) {
	var req indexDocumentsRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	scope := model.Scope{CommunityID: req.CommunityID, FolderType: req.FolderType}

	if req.Async {
		run, err := h.indexing.EnqueueDocuments(c.Request.Context(), scope)
		if err != nil {
			failErr(c, "IndexingHandler", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "queued", "data": run})
		return
	}

	report, err := h.indexing.IndexDocuments(c.Request.Context(), scope)
	if err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	log.Infof("[IndexingHandler] run %s: total=%d successful=%d failed=%d skipped=%d",
		report.RunID, report.Total, report.Successful, report.Failed, report.Skipped)
	ok(c, report)
}

// IndexFile indexes one file; ?force=true bypasses change detection.
func (h *IndexingHandler) IndexFile(c *gin.Context) {
	fileID := c.Param("fileId")
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))

	if async {
		run, err := h.indexing.EnqueueFile(c.Request.Context(), fileID, force)
		if err != nil {
			failErr(c, "IndexingHandler", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "queued", "data": run})
		return
	}

	report, err := h.indexing.IndexFile(c.Request.Context(), fileID, force)
	if err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	data := gin.H{"report": report}
	if len(report.ProcessedFiles) > 0 {
		data["status"] = report.ProcessedFiles[0].Status
		data["details"] = report.ProcessedFiles[0].Details
	}
	ok(c, data)
}

func (h *IndexingHandler) ResetFailedIndexes(c *gin.Context) {
	var req resetFailedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := h.recovery.ResetFailedIndexes(c.Request.Context(), req.Scope, req.Trigger)
	if err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	ok(c, res)
}

func (h *IndexingHandler) VectorStats(c *gin.Context) {
	stats, err := h.indexing.Stats(c.Request.Context())
	if err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	ok(c, stats)
}

func (h *IndexingHandler) GetRun(c *gin.Context) {
	run, err := h.indexing.GetRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	ok(c, run)
}

// DeleteIndex drops a file's chunks after the file was deleted or deactivated.
func (h *IndexingHandler) DeleteIndex(c *gin.Context) {
	fileID := c.Param("fileId")
	if err := h.indexing.DeleteFile(c.Request.Context(), fileID); err != nil {
		failErr(c, "IndexingHandler", err)
		return
	}
	ok(c, gin.H{"fileId": fileID})
}
