// Package docs provides generated OpenAPI documentation.
//
// sheetgpt API
//
//	@title			sheetgpt API
//	@version		1.0
//	@description	Run an LLM prompt over every row of a spreadsheet and download the results workbook.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/maiteclab/sheetgpt
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8501
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/sheetgpt/serve.go -o ./swagger --parseDependency --parseInternal
