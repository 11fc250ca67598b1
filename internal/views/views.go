// Package views содержит модели экранов клиентской части маркетплейса.
// Каждое представление владеет своим состоянием под мьютексом: его вызывают
// и цикл событий интерфейса, и обработчики realtime-ленты. Ответы на запросы,
// завершившиеся после Unmount или после более нового запроса, отбрасываются.
package views

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyMessage текст сообщения пуст после обрезки пробелов
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotSignedIn действие доступно только вошедшему пользователю
	ErrNotSignedIn = errors.New("please sign in")
	// ErrCannotMessage продавцу своего или недоступного объявления писать нельзя
	ErrCannotMessage = errors.New("cannot message the seller of this item")
	// ErrUnmounted представление уже закрыто
	ErrUnmounted = errors.New("view is unmounted")
)

// PlaceholderImage показывается вместо отсутствующего изображения объявления
const PlaceholderImage = "/placeholder.svg"

// FormatPrice форматирует цену с двумя знаками после запятой
func FormatPrice(price float64) string {
	return fmt.Sprintf("$%.2f", price)
}

// ImageOrPlaceholder возвращает адрес изображения или заглушку
func ImageOrPlaceholder(url string) string {
	if strings.TrimSpace(url) == "" {
		return PlaceholderImage
	}
	return url
}

// generation отмечает актуальный запрос представления
type generation struct {
	current   uint64
	unmounted bool
}

func (g *generation) next() uint64 {
	g.current++
	return g.current
}

func (g *generation) valid(gen uint64) bool {
	return !g.unmounted && g.current == gen
}

func (g *generation) unmount() {
	g.unmounted = true
	g.current++
}
