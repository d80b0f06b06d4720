// Package engine содержит граф зависимостей плана.
//
// Планировщик разворачивает директиву в набор задач, где задача может
// зависеть от другой по заголовку. Перед постановкой задач в очередь
// план прогоняется через Build: дубликаты заголовков, зависимость от
// самой себя и циклы отклоняют план целиком — цикл зависимостей иначе
// заблокировал бы flow навсегда, потому что ни одна из задач цикла не
// дождалась бы завершения другой.
package engine
