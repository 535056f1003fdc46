package domain

import "errors"

var (
	// ErrArticleNotFound возвращается, если статья не существует.
	ErrArticleNotFound = errors.New("article not found")
	// ErrSourceNotFound возвращается, если источник не найден или выключен.
	ErrSourceNotFound = errors.New("source not found")
	// ErrWeightsNotFound возвращается хранилищем, если строки настроек нет.
	ErrWeightsNotFound = errors.New("rating settings not found")
	// ErrWeightsMalformed — сохранённые настройки формулы некорректны.
	ErrWeightsMalformed = errors.New("rating settings are malformed")
	// ErrInvalidWeights — обновление настроек не прошло валидацию.
	ErrInvalidWeights = errors.New("invalid weight values")
	// ErrUnknownPeriod — неизвестный период живого рейтинга.
	ErrUnknownPeriod = errors.New("unknown rating period")
)
