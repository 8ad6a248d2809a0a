package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	"github.com/learnify/learnify/internal/receipt"
	"github.com/learnify/learnify/pkg/db/pagination"
)

func (s *Server) GetBalance(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.creditSvc.LoadBalance(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) ListGrants(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	grants, err := s.creditSvc.ListGrants(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (s *Server) ListUsage(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
		beforeID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
	}

	limit := page.Limit()
	records, err := s.creditSvc.ListUsage(c.Request.Context(), ownerID, beforeID, limit+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, pageInfo := pagination.BuildPageInfo(records, limit, func(r creditdomain.UsageRecord) string {
		return r.ID.String()
	})

	c.JSON(http.StatusOK, gin.H{
		"usage":     records,
		"page_info": pageInfo,
	})
}

func (s *Server) GetGrantReceipt(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	grantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("grantId")))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	grant, err := s.creditSvc.GetGrant(c.Request.Context(), ownerID, grantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := s.receiptDataFor(grant)
	pdf, err := s.receipts.Generate(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", grant.ID))
	c.DataFromReader(http.StatusOK, -1, "application/pdf", pdf, nil)
}

// receiptDataFor matches the grant back to the package it was bought as.
// Grants do not store the package ID, so the lookup goes by shape; a grant
// with no matching package still renders, just without a price line.
func (s *Server) receiptDataFor(grant *creditdomain.CreditGrant) receipt.Data {
	data := receipt.Data{
		ReceiptNumber: grant.ID.String(),
		OwnerLabel:    grant.OwnerID.String(),
		PackageName:   "Credit grant",
		Credits:       grant.InitialAmount,
		Unlimited:     grant.IsUnlimited,
		PurchasedAt:   grant.PurchasedAt.Format("Jan 2, 2006"),
		ExpiresAt:     grant.ExpiresAt.Format("Jan 2, 2006"),
	}
	if grant.IsUnlimited {
		data.PackageName = "Unlimited plan"
	}

	for _, pkg := range s.pricingSvc.Packages() {
		if pkg.Unlimited != grant.IsUnlimited {
			continue
		}
		if !pkg.Unlimited && pkg.Credits != grant.InitialAmount {
			continue
		}
		data.PackageName = pkg.Name
		data.Price = fmt.Sprintf("$%d.%02d %s", pkg.PriceCents/100, pkg.PriceCents%100, strings.ToUpper(pkg.Currency))
		break
	}
	return data
}
