// Package templates renders the HTML views. Components are written in
// page.templ; page_templ.go is produced from it by templ generate.
package templates

import (
	"strconv"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/extract"
)

//go:generate templ generate

// Routes the page links to.
const (
	loginPath  = "/auth/login"
	logoutPath = "/auth/logout"
	uploadPath = "/api/upload"
	exportPath = "/api/export"
)

// PageData is everything the summary page shows.
type PageData struct {
	User         *auth.Identity
	RequireLogin bool
	Accept       string
	Selection    *core.Selection
	Items        []boq.LineItem
	GrandTotal   float64
	Estimated    int
	HasData      bool
	Busy         bool
	Succeeded    bool
	EmailStatus  *extract.EmailStatus
	Err          *core.UserMessage
}

// NewPageData derives the page from a workspace state.
func NewPageData(st core.State, requireLogin bool, accept string) PageData {
	var user *auth.Identity
	if st.Session != nil {
		id := st.Session.Identity
		user = &id
	}
	return PageData{
		User:         user,
		RequireLogin: requireLogin,
		Accept:       accept,
		Selection:    st.Selection,
		Items:        st.Table.Items(),
		GrandTotal:   st.Table.GrandTotal(),
		Estimated:    st.Table.EstimatedCount(),
		HasData:      st.HasData,
		Busy:         st.Busy,
		Succeeded:    st.Succeeded,
		EmailStatus:  st.EmailStatus,
		Err:          st.Err,
	}
}

func money(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
