package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

type ItemResponse struct {
	Items   []Item `json:"items"`
	Found   int    `json:"found"`
	Pages   int    `json:"pages"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

type Item any

// GetItems makes GET request to HeadHunter API and return items from all pages.
func (c *Client) GetItems(ctx context.Context, path string, q url.Values) ([]Item, error) {
	var response ItemResponse
	if err := c.rest.GetJSON(ctx, path, q, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("got response from HH.ru", zap.Int("pages", response.Pages), zap.Int("max items per page", response.PerPage))

	items := append([]Item(nil), response.Items...)

	for response.Page < (response.Pages - 1) {
		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))

		next := response.Page + 1
		response = ItemResponse{}
		if err := c.rest.GetJSON(ctx, path, withPage(q, next), &response); err != nil {
			return nil, err
		}
		if response.Page != next {
			return nil, fmt.Errorf("asked for page %d, got %d", next, response.Page)
		}

		items = append(items, response.Items...)
	}

	return items, nil
}

// withPage returns a copy of q asking for page.
func withPage(q url.Values, page int) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	out.Set("page", strconv.Itoa(page))
	return out
}
