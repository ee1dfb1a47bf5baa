package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tendersync/internal/api/middleware"
	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/service"
)

// TenderHandler serves records from the catalog.
type TenderHandler struct {
	catalog *service.Catalog
}

// NewTenderHandler creates a new tender handler.
func NewTenderHandler(catalog *service.Catalog) *TenderHandler {
	return &TenderHandler{catalog: catalog}
}

// ListTenders handles GET /api/v1/tenders.
func (h *TenderHandler) ListTenders(c *gin.Context) {
	q := service.TenderQuery{
		TenderType: c.DefaultQuery("type", "CON"),
		Status:     c.Query("status"),
		Buyer:      c.Query("buyer"),
		Search:     c.Query("search"),
	}

	var err error
	if q.DateFrom, err = optionalDate(c, "date_from"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.DateTo, err = optionalDate(c, "date_to"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !q.DateFrom.IsZero() && !q.DateTo.IsZero() && q.DateFrom.After(q.DateTo) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date_from must not be after date_to"})
		return
	}
	q.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	q.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	page, err := h.catalog.Query(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetTender handles GET /api/v1/tenders/:type/:number.
func (h *TenderHandler) GetTender(c *gin.Context) {
	t, ok, err := h.catalog.Get(c.Param("type"), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tender not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TenderHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUnknownTenderType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	middleware.GetLogger(c).WithError(err).Error("Catalog read failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read tenders"})
}

func optionalDate(c *gin.Context, key string) (domain.Date, error) {
	v := c.Query(key)
	if v == "" {
		return domain.Date{}, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return domain.Date{}, errors.New(key + ": " + err.Error())
	}
	return d, nil
}
