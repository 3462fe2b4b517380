package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/store"
)

const (
	minYear = 1900
	maxYear = 2200
)

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return id, nil
}

func parseYear(name, raw string) (int, error) {
	year, err := strconv.Atoi(raw)
	if err != nil || year < minYear || year > maxYear {
		return 0, badRequest("%s must be a year between %d and %d", name, minYear, maxYear)
	}
	return year, nil
}

// queryYear reads a year query parameter, defaulting to the current year.
func (s *Server) queryYear(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return s.clock.Now().Year(), nil
	}
	return parseYear(name, raw)
}

// querySystem reads the optional system filter.
func querySystem(c *gin.Context) (*int64, error) {
	raw := c.Query("system")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, badRequest("system must be a positive integer")
	}
	return &id, nil
}

// systemYear reads the :system and :year path parameters.
func systemYear(c *gin.Context) (int64, int, error) {
	systemID, err := pathID(c, "system")
	if err != nil {
		return 0, 0, err
	}
	year, err := parseYear("year", c.Param("year"))
	if err != nil {
		return 0, 0, err
	}
	return systemID, year, nil
}

func (s *Server) handleSystems(c *gin.Context) {
	systems, err := s.service.Systems(c.Request.Context(), scopeOf(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, systemViews(systems))
}

func (s *Server) handleCrops(c *gin.Context) {
	systemID, err := querySystem(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	crops, err := s.service.Crops(c.Request.Context(), scopeOf(c), systemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cropViews(crops))
}

func (s *Server) handleDemand(c *gin.Context) {
	systemID, year, err := systemYear(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	d, err := s.service.Demand(c.Request.Context(), scopeOf(c), systemID, year)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type replaceRequest struct {
	FarmEfficiency       float64           `json:"farm_efficiency"`
	ConveyanceEfficiency float64           `json:"conveyance_efficiency"`
	Rows                 []demand.RowInput `json:"rows"`
}

func (s *Server) handleReplaceDemand(c *gin.Context) {
	systemID, year, err := systemYear(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest("invalid body: %v", err))
		return
	}
	res, err := s.service.Replace(c.Request.Context(), scopeOf(c), store.BulkReplaceInput{
		SystemID:             systemID,
		Year:                 year,
		FarmEfficiency:       req.FarmEfficiency,
		ConveyanceEfficiency: req.ConveyanceEfficiency,
		Rows:                 req.Rows,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGrid(c *gin.Context) {
	systemID, year, err := systemYear(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	grid, err := s.service.Grid(c.Request.Context(), scopeOf(c), systemID, year)
	if err != nil {
		s.writeError(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, grid)
	case "csv":
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="demand-%d-%d.csv"`, systemID, year))
		c.Status(http.StatusOK)
		if err := grid.WriteCSV(c.Writer); err != nil {
			s.logger.Error("write grid csv", "system", systemID, "year", year, "error", err)
		}
	default:
		s.writeError(c, badRequest("format must be json or csv"))
	}
}

func (s *Server) handleDashboard(c *gin.Context) {
	year, err := s.queryYear(c, "year")
	if err != nil {
		s.writeError(c, err)
		return
	}
	systemID, err := querySystem(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	snap, err := s.composer.Compose(c.Request.Context(), year, systemID, scopeOf(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DashboardView{Snapshot: snap, Failures: failureViews(snap.Failures)})
}

func (s *Server) handleTelemetry(c *gin.Context) {
	systemID, year, err := systemYear(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.service.Telemetry(c.Request.Context(), scopeOf(c), systemID, year)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TelemetryView{Result: res, Failures: failureViews(res.Failures)})
}

func (s *Server) handleFacilities(c *gin.Context) {
	systemID, err := querySystem(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	statuses, err := s.service.Facilities(c.Request.Context(), scopeOf(c), systemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, facilityViews(statuses))
}

type curveRequest struct {
	Gauge *float64 `json:"gauge" binding:"required"`
}

func (s *Server) handleCurveVolume(c *gin.Context) {
	kind := models.ReadingKind(c.Param("kind"))
	if !kind.Valid() {
		s.writeError(c, badRequest("kind must be intake or storage"))
		return
	}
	deviceID, err := pathID(c, "device")
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req curveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest("invalid body: %v", err))
		return
	}
	volume, err := s.service.CurveVolume(c.Request.Context(), scopeOf(c), kind, deviceID, *req.Gauge)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CurveVolumeView{Kind: string(kind), DeviceID: deviceID, Gauge: *req.Gauge, Volume: volume})
}

func (s *Server) handleYearSummary(c *gin.Context) {
	year, err := s.queryYear(c, "year")
	if err != nil {
		s.writeError(c, err)
		return
	}
	sum, err := s.service.YearSummary(c.Request.Context(), scopeOf(c), year)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleCompare(c *gin.Context) {
	if c.Query("year1") == "" || c.Query("year2") == "" {
		s.writeError(c, badRequest("year1 and year2 are required"))
		return
	}
	year1, err := parseYear("year1", c.Query("year1"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	year2, err := parseYear("year2", c.Query("year2"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	cmp, err := s.service.Compare(c.Request.Context(), scopeOf(c), year1, year2)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}
