// Package runner содержит production-реализации способностей
// выполнения задач, внедряемых в движок:
//   - shell.go — запуск команд через os/exec
//   - http.go  — HTTP-клиент с таймаутом по умолчанию
//
// Движок зависит только от интерфейсов engine.CommandRunner
// и engine.HTTPDoer; этот пакет — единственное место, где
// появляются процессы и сокеты.
package runner
