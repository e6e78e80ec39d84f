// Package service связывает движок с хранилищем и инфраструктурой.
//
// RunService — единая точка запуска workflow для API и scheduler:
// загрузка определения, построение графа, выполнение движком,
// сохранение результата, публикация событий и метрики.
package service
