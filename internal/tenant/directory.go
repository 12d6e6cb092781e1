// Package tenant resolves restaurants and their queue configuration. The
// records are owned by the restaurant-settings system; the queue only reads them.
package tenant

import (
	"context"
	"sort"
	"strings"
	"sync"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
)

type Directory interface {
	// Resolve looks a restaurant up by public slug, then by link code.
	Resolve(ctx context.Context, slugOrCode string) (models.Restaurant, error)
	Get(ctx context.Context, restaurantID string) (models.Restaurant, error)
	// List returns every restaurant, including deactivated ones that may
	// still hold called entries.
	List(ctx context.Context) ([]models.Restaurant, error)
}

// Static is an in-memory Directory, loaded from the tenants file or built in tests.
type Static struct {
	mu          sync.RWMutex
	restaurants map[string]models.Restaurant
}

var _ Directory = (*Static)(nil)

func NewStatic(restaurants ...models.Restaurant) *Static {
	s := &Static{restaurants: make(map[string]models.Restaurant, len(restaurants))}
	for _, restaurant := range restaurants {
		s.restaurants[restaurant.RestaurantID] = restaurant
	}
	return s
}

// Put adds or replaces a restaurant.
func (s *Static) Put(restaurant models.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[restaurant.RestaurantID] = restaurant
}

func (s *Static) Resolve(_ context.Context, slugOrCode string) (models.Restaurant, error) {
	key := strings.TrimSpace(slugOrCode)
	if key == "" {
		return models.Restaurant{}, store.ErrRestaurantNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, restaurant := range s.restaurants {
		if restaurant.Slug == key {
			return restaurant, nil
		}
	}
	for _, restaurant := range s.restaurants {
		if restaurant.LinkCode != "" && restaurant.LinkCode == key {
			return restaurant, nil
		}
	}
	return models.Restaurant{}, store.ErrRestaurantNotFound
}

func (s *Static) Get(_ context.Context, restaurantID string) (models.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	restaurant, ok := s.restaurants[restaurantID]
	if !ok {
		return models.Restaurant{}, store.ErrRestaurantNotFound
	}
	return restaurant, nil
}

func (s *Static) List(_ context.Context) ([]models.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	restaurants := make([]models.Restaurant, 0, len(s.restaurants))
	for _, restaurant := range s.restaurants {
		restaurants = append(restaurants, restaurant)
	}
	sort.Slice(restaurants, func(i, j int) bool { return restaurants[i].RestaurantID < restaurants[j].RestaurantID })
	return restaurants, nil
}
