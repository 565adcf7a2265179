package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/areaindex/internal/classifier"
	apierrors "github.com/stwalsh4118/areaindex/internal/errors"
	"github.com/stwalsh4118/areaindex/internal/middleware"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
	"github.com/stwalsh4118/areaindex/internal/services"
)

// AreaHandler handles area, index and containment HTTP requests.
type AreaHandler struct {
	service services.AreaService
}

// NewAreaHandler creates a new AreaHandler instance.
func NewAreaHandler(service services.AreaService) *AreaHandler {
	return &AreaHandler{
		service: service,
	}
}

// CreateAreaRequest is the body of POST /api/v1/areas. Geometry is a GeoJSON
// Polygon, MultiPolygon, Feature or FeatureCollection in the given SRID.
type CreateAreaRequest struct {
	Geometry    json.RawMessage `json:"geometry" binding:"required"`
	Name        string          `json:"name" binding:"required,max=255"`
	SRID        *int            `json:"srid" binding:"required,gte=0"`
	ShapefileID int64           `json:"shapefileId" binding:"gte=0"`
	CellSize    float64         `json:"cellSize" binding:"gte=0"`
}

// ListAreasQuery holds the optional filters of GET /api/v1/areas.
type ListAreasQuery struct {
	SRID        *int   `form:"srid" binding:"omitempty,gte=0"`
	ShapefileID *int64 `form:"shapefile_id" binding:"omitempty,gte=0"`
}

// BuildIndexRequest is the optional body of POST /api/v1/areas/:id/index.
type BuildIndexRequest struct {
	CellSize float64 `json:"cellSize" binding:"gte=0"`
}

// EstimateQuery holds the query of GET /api/v1/areas/:id/index/estimate.
type EstimateQuery struct {
	CellSize float64 `form:"cell_size" binding:"gte=0"`
}

// ContainsRequest is the body of POST /api/v1/areas/:id/contains. Every
// point is an [x, y] pair in SRID.
type ContainsRequest struct {
	SRID   *int        `json:"srid" binding:"required,gte=0"`
	Points [][]float64 `json:"points" binding:"required,dive,len=2"`
}

// AreaResponse wraps a single area and, after a build, its index.
type AreaResponse struct {
	Area  *models.Area           `json:"area"`
	Index *services.IndexSummary `json:"index,omitempty"`
}

// ListAreasResponse is the response of GET /api/v1/areas.
type ListAreasResponse struct {
	Areas []models.Area `json:"areas"`
	Count int           `json:"count"`
}

// IndexResponse wraps an index summary.
type IndexResponse struct {
	Index *services.IndexSummary `json:"index"`
}

// DeleteShapefileResponse lists the areas removed with a shapefile.
type DeleteShapefileResponse struct {
	AreaIDs []int64 `json:"areaIds"`
	Count   int     `json:"count"`
}

// ContainsResponse answers a batch containment query. Results line up with
// the request points.
type ContainsResponse struct {
	Results []bool      `json:"results"`
	Count   int         `json:"count"`
	Stats   query.Stats `json:"stats"`
}

// CreateArea handles POST /api/v1/areas.
func (h *AreaHandler) CreateArea(c *gin.Context) {
	log := middleware.GetLogger(c)

	var req CreateAreaRequest
	if !bindJSON(c, &req) {
		return
	}

	srid := models.SRID(*req.SRID)
	parts, err := models.ParseGeoJSONParts(req.Geometry, srid)
	if err != nil {
		apierrors.BadRequest(c, "Invalid GeoJSON geometry", map[string]interface{}{
			"geometry": err.Error(),
		})
		return
	}

	if log != nil {
		log.Info("Creating area", map[string]interface{}{
			"name":  req.Name,
			"srid":  srid,
			"parts": len(parts),
		})
	}

	area, summary, err := h.service.CreateArea(c.Request.Context(), services.CreateAreaRequest{
		Name:        req.Name,
		ShapefileID: req.ShapefileID,
		SRID:        srid,
		Parts:       parts,
		CellSize:    req.CellSize,
	})
	if err != nil {
		handleServiceError(c, err, "Failed to create area")
		return
	}

	c.JSON(http.StatusCreated, AreaResponse{Area: area, Index: summary})
}

// ListAreas handles GET /api/v1/areas.
func (h *AreaHandler) ListAreas(c *gin.Context) {
	var q ListAreasQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	var filter services.AreaFilter
	if q.SRID != nil {
		srid := models.SRID(*q.SRID)
		filter.SRID = &srid
	}
	filter.ShapefileID = q.ShapefileID

	areas, err := h.service.ListAreas(c.Request.Context(), filter)
	if err != nil {
		handleServiceError(c, err, "Failed to list areas")
		return
	}
	if areas == nil {
		areas = []models.Area{}
	}

	c.JSON(http.StatusOK, ListAreasResponse{Areas: areas, Count: len(areas)})
}

// GetArea handles GET /api/v1/areas/:id.
func (h *AreaHandler) GetArea(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	area, err := h.service.GetArea(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, "Failed to query area")
		return
	}

	c.JSON(http.StatusOK, AreaResponse{Area: area})
}

// DeleteArea handles DELETE /api/v1/areas/:id.
func (h *AreaHandler) DeleteArea(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteArea(c.Request.Context(), id); err != nil {
		handleServiceError(c, err, "Failed to delete area")
		return
	}

	c.Status(http.StatusNoContent)
}

// DeleteShapefile handles DELETE /api/v1/shapefiles/:id.
func (h *AreaHandler) DeleteShapefile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ids, err := h.service.DeleteShapefile(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, "Failed to delete shapefile")
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	c.JSON(http.StatusOK, DeleteShapefileResponse{AreaIDs: ids, Count: len(ids)})
}

// BuildIndex handles POST /api/v1/areas/:id/index. An empty body rebuilds
// with the configured cell size.
func (h *AreaHandler) BuildIndex(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req BuildIndexRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	summary, err := h.service.BuildIndex(c.Request.Context(), id, req.CellSize)
	if err != nil {
		handleServiceError(c, err, "Failed to build index")
		return
	}

	c.JSON(http.StatusOK, IndexResponse{Index: summary})
}

// GetIndex handles GET /api/v1/areas/:id/index.
func (h *AreaHandler) GetIndex(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	idx, err := h.service.Index(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, "Failed to load index")
		return
	}

	c.JSON(http.StatusOK, IndexResponse{Index: services.Summarize(idx)})
}

// EstimateIndex handles GET /api/v1/areas/:id/index/estimate.
func (h *AreaHandler) EstimateIndex(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var q EstimateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	estimate, err := h.service.EstimateIndex(c.Request.Context(), id, q.CellSize)
	if err != nil {
		handleServiceError(c, err, "Failed to estimate index")
		return
	}

	c.JSON(http.StatusOK, estimate)
}

// Contains handles POST /api/v1/areas/:id/contains.
func (h *AreaHandler) Contains(c *gin.Context) {
	log := middleware.GetLogger(c)

	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ContainsRequest
	if !bindJSON(c, &req) {
		return
	}

	srid := models.SRID(*req.SRID)
	points := make([]models.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = models.NewPoint(p[0], p[1], srid)
	}

	result, err := h.service.Contains(c.Request.Context(), id, points)
	if err != nil {
		handleServiceError(c, err, "Failed to test containment")
		return
	}

	if log != nil {
		log.Debug("Containment query answered", map[string]interface{}{
			"area_id":      id,
			"points":       result.Stats.Points,
			"exact_tested": result.Stats.ExactTested,
		})
	}

	c.JSON(http.StatusOK, ContainsResponse{
		Results: result.Results,
		Count:   len(result.Results),
		Stats:   result.Stats,
	})
}

// bindJSON binds and validates the body, writing the error response on
// failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", map[string]interface{}{
			"body": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.BadRequest(c, "Invalid id", map[string]interface{}{"id": c.Param("id")})
		return 0, false
	}
	return id, true
}

// handleServiceError maps service and domain errors to API responses.
func handleServiceError(c *gin.Context, err error, message string) {
	var mismatch *query.SRIDMismatchError
	switch {
	case errors.As(err, &mismatch):
		apierrors.SRIDMismatch(c, mismatch.Error(), mismatch.Position, int(mismatch.Expected), int(mismatch.Actual))
	case errors.Is(err, services.ErrAreaNotFound):
		apierrors.NotFound(c, "Area not found")
	case errors.Is(err, services.ErrIndexNotBuilt):
		apierrors.Conflict(c, "Containment index has not been built for this area")
	case errors.Is(err, services.ErrTooManyPoints):
		apierrors.PayloadTooLarge(c, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidArea),
		errors.Is(err, services.ErrInvalidPoints),
		errors.Is(err, services.ErrInvalidRequest):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, classifier.ErrInvalidCellSize),
		errors.Is(err, classifier.ErrMalformedPolygon),
		errors.Is(err, classifier.ErrTooManyCells):
		apierrors.Unprocessable(c, err.Error(), nil)
	default:
		apierrors.InternalServerError(c, message, err)
	}
}

// RegisterRoutes mounts the area endpoints on an /api/v1 group.
func (h *AreaHandler) RegisterRoutes(v1 *gin.RouterGroup) {
	areas := v1.Group("/areas")
	{
		areas.POST("", h.CreateArea)
		areas.GET("", h.ListAreas)
		areas.GET("/:id", h.GetArea)
		areas.DELETE("/:id", h.DeleteArea)
		areas.POST("/:id/index", h.BuildIndex)
		areas.GET("/:id/index", h.GetIndex)
		areas.GET("/:id/index/estimate", h.EstimateIndex)
		areas.POST("/:id/contains", h.Contains)
	}

	v1.DELETE("/shapefiles/:id", h.DeleteShapefile)
}
