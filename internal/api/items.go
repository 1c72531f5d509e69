package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// maxUploadMemory bounds the multipart form held in memory.
const maxUploadMemory = 32 << 20

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type winnerRequest struct {
	BidID string `json:"bid_id" binding:"required"`
}

// listItem handles POST /items as a multipart form: title, description,
// selling_price, minimum_bid, maximum_bid, deadline (RFC 3339) and any
// number of images.
func (h *handler) listItem(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.badRequest(c, "listItem", err)
		return
	}
	in, err := newItemFromForm(form)
	if err != nil {
		h.badRequest(c, "listItem", err)
		return
	}

	var files []multipart.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, fh := range form.File["images"] {
		f, err := fh.Open()
		if err != nil {
			h.badRequest(c, "listItem", err)
			return
		}
		files = append(files, f)
		in.Images = append(in.Images, auction.Image{Name: fh.Filename, Body: f})
	}

	it, err := h.svc.Auctions.ListItem(c.Request.Context(), actor(c).AccountID, in)
	if err != nil {
		h.fail(c, "listItem", err)
		return
	}
	jsonResponse(c, http.StatusCreated, it, "item listed")
}

func newItemFromForm(form *multipart.Form) (auction.NewItem, error) {
	value := func(k string) string {
		if v := form.Value[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	money := func(k string) (decimal.Decimal, error) {
		v := value(k)
		if v == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", k, err)
		}
		return d, nil
	}

	in := auction.NewItem{Title: value("title"), Description: value("description")}
	var err error
	if in.SellingPrice, err = money("selling_price"); err != nil {
		return in, err
	}
	if in.MinimumBid, err = money("minimum_bid"); err != nil {
		return in, err
	}
	if in.MaximumBid, err = money("maximum_bid"); err != nil {
		return in, err
	}
	if in.Deadline, err = time.Parse(time.RFC3339, value("deadline")); err != nil {
		return in, fmt.Errorf("deadline: %w", err)
	}
	return in, nil
}

// item handles GET /items/:id
func (h *handler) item(c *gin.Context) {
	it, err := h.svc.Auctions.Item(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "item", err)
		return
	}
	jsonResponse(c, http.StatusOK, it, "item retrieved")
}

// bids handles GET /items/:id/bids
func (h *handler) bids(c *gin.Context) {
	bids, err := h.svc.Auctions.Bids(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "bids", err)
		return
	}
	if bids == nil {
		bids = []store.Bid{}
	}
	jsonResponse(c, http.StatusOK, bids, "bids retrieved")
}

// history handles GET /items/:id/history
func (h *handler) history(c *gin.Context) {
	events, err := h.svc.Auctions.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	jsonResponse(c, http.StatusOK, events, "history retrieved")
}

// placeBid handles POST /items/:id/bids
func (h *handler) placeBid(c *gin.Context) {
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "placeBid", err)
		return
	}
	b, err := h.svc.Auctions.PlaceBid(c.Request.Context(), c.Param("id"), actor(c).AccountID, req.Amount)
	if err != nil {
		h.fail(c, "placeBid", err)
		return
	}
	jsonResponse(c, http.StatusCreated, b, "bid placed")
}

// selectWinner handles POST /items/:id/winner. The bid must belong to
// the item in the path.
func (h *handler) selectWinner(c *gin.Context) {
	var req winnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "selectWinner", err)
		return
	}
	ctx := c.Request.Context()
	bids, err := h.svc.Auctions.Bids(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, "selectWinner", err)
		return
	}
	found := false
	for _, b := range bids {
		if b.ID == req.BidID {
			found = true
			break
		}
	}
	if !found {
		jsonError(c, http.StatusNotFound, "bid not found on item")
		return
	}

	b, err := h.svc.Settlement.SelectWinner(ctx, actor(c).AccountID, req.BidID)
	if err != nil {
		h.fail(c, "selectWinner", err)
		return
	}
	jsonResponse(c, http.StatusOK, b, "winner selected")
}
