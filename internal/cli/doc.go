// Package cli реализует инструмент командной строки Autopilot.
//
// # Обзор
//
// CLI — клиентская утилита для наблюдения за движком через HTTP API:
// traces, очередь pending, журнал, статусы шагов. Команда event send
// позволяет вручную запустить autopilot синтетическим событием.
// Исключение из HTTP-модели одно: init генерирует локальный
// autopilot.yml и к API не обращается.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Autopilot API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (dataResponse, listResponse, errorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	traces, err := client.ListTraces()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: autopilot trace list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - trace: list, show
//   - span: chain
//   - pending: list
//   - event: send
//   - log, status, init — одиночные команды
//
// Каждая группа создаётся через фабричную функцию (NewTraceCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
