// Package events публикует уведомления о жизненном цикле runs в RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий
//
// Типы событий:
//   - run.started  — run начал выполняться
//   - run.finished — run завершился (COMPLETED или FAILED)
//
// Exchanges:
//   - conveyor.runs — события runs
//
// Движок выполняет run целиком внутри одного процесса, поэтому очереди
// здесь не управляют выполнением: это уведомления для внешних
// подписчиков (аудит, алерты, downstream-интеграции).
package events
